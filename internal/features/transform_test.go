package features

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type codeTable map[string]int

func (c codeTable) Code(method string) int { return c[method] }

func f(v float64) *float64 { return &v }
func year(v int) *int      { return &v }

func TestTransform_DerivedColumns(t *testing.T) {
	in := Input{
		Method:      "MFL",
		Date:        time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		Param1:      f(4),
		Param2:      f(2),
		Param3:      f(3),
		DefectFound: true,
		AssetYear:   year(1990),
	}

	v := Transform([]Input{in}, codeTable{"MFL": 2})[0]
	require.Len(t, v, Width)

	assert.Equal(t, 2024.0, v[Year])
	assert.Equal(t, 1.0, v[Month])
	assert.Equal(t, 15.0, v[DayOfYear])
	assert.Equal(t, 1.0, v[IsWinter])
	assert.Equal(t, 0.0, v[IsSummer])
	assert.Equal(t, 8.0, v[Param1xParam2])
	assert.InDelta(t, 2.0, v[Param1DivParam2], 1e-5)
	assert.Equal(t, 6.0, v[ParamSum])
	assert.Equal(t, 2.0, v[ParamDiff])
	assert.Equal(t, 16.0, v[Param1Squared])
	assert.Equal(t, 4.0, v[Param2Squared])
	assert.Equal(t, 9.0, v[Param3Squared])
	assert.Equal(t, 34.0, v[AssetAge])
	assert.Equal(t, 1156.0, v[AssetAgeSquared])
	assert.Equal(t, 2.0, v[MethodEncoded])
	assert.Equal(t, 1.0, v[DefectFound])
	assert.InDelta(t, 1.0, v[Param1Normalized], 1e-6)
}

func TestTransform_MissingValuesImputedAsZero(t *testing.T) {
	v := Transform([]Input{{Method: "UT"}}, nil)[0]

	assert.Equal(t, 0.0, v[Param1])
	assert.Equal(t, 0.0, v[Param1xParam2])
	assert.Equal(t, 0.0, v[Param1DivParam2])
	assert.Equal(t, 0.0, v[Year])
	assert.Equal(t, 0.0, v[AssetAge], "age needs both dates")
	assert.Equal(t, float64(DefaultAssetYear), v[AssetYear])
	assert.Equal(t, 0.0, v[Param1Normalized], "no encoder, no normalization")
}

func TestTransform_SummerAndNoAssetYear(t *testing.T) {
	v := Transform([]Input{{Date: time.Date(2023, 7, 1, 0, 0, 0, 0, time.UTC)}}, nil)[0]

	assert.Equal(t, 1.0, v[IsSummer])
	assert.Equal(t, 0.0, v[IsWinter])
	assert.Equal(t, 0.0, v[AssetAge])
}

func TestTransform_PerMethodNormalization(t *testing.T) {
	inputs := []Input{
		{Method: "VIK", Param1: f(10)},
		{Method: "VIK", Param1: f(30)},
		{Method: "UT", Param1: f(5)},
	}

	out := Transform(inputs, codeTable{"VIK": 1, "UT": 0})

	assert.InDelta(t, 0.5, out[0][Param1Normalized], 1e-6)
	assert.InDelta(t, 1.5, out[1][Param1Normalized], 1e-6)
	assert.InDelta(t, 1.0, out[2][Param1Normalized], 1e-6)
}

func TestTransform_Deterministic(t *testing.T) {
	inputs := []Input{
		{Method: "VIK", Date: time.Date(2022, 3, 9, 0, 0, 0, 0, time.UTC), Param1: f(1.1), Param2: f(0.3), AssetYear: year(2001)},
		{Method: "UT", Param1: f(7), DefectFound: true},
	}
	enc := codeTable{"VIK": 1, "UT": 0}

	first := Transform(inputs, enc)
	second := Transform(inputs, enc)

	for i := range first {
		assert.Equal(t, first[i].Bytes(), second[i].Bytes())
		assert.Equal(t, first[i].Hash(), second[i].Hash())
	}
	assert.NotEqual(t, first[0].Hash(), first[1].Hash())
}

func TestNames(t *testing.T) {
	n := Names()
	require.Len(t, n, Width)
	assert.Equal(t, "param1_normalized", n[Param1Normalized])
	assert.Equal(t, "asset_age", n[AssetAge])
}
