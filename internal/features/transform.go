// Package features turns raw inspection fields into the numeric vectors the
// classifiers consume. Transform is pure: equal inputs yield byte-identical
// vectors, which is what lets prediction results be cached by Vector.Hash.
package features

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/qrlbk/IntegrityOS/pkg/utils"
)

const (
	epsilon = 1e-6
	// DefaultAssetYear stands in for an unknown construction year.
	DefaultAssetYear = 2000
)

// Column positions inside a Vector.
const (
	Param1 = iota
	Param2
	Param3
	AssetYear
	MethodEncoded
	DefectFound
	Year
	Month
	DayOfYear
	IsWinter
	IsSummer
	Param1xParam2
	Param1DivParam2
	ParamSum
	ParamDiff
	Param1Squared
	Param2Squared
	Param3Squared
	AssetAge
	AssetAgeSquared
	Param1Normalized

	Width
)

var names = [Width]string{
	"param1", "param2", "param3", "asset_year", "method_encoded", "defect_found",
	"year", "month", "day_of_year", "is_winter", "is_summer",
	"param1_x_param2", "param1_div_param2", "param_sum", "param_diff",
	"param1_squared", "param2_squared", "param3_squared",
	"asset_age", "asset_age_squared", "param1_normalized",
}

func Names() []string {
	out := make([]string, Width)
	copy(out, names[:])
	return out
}

type Input struct {
	Method      string
	Date        time.Time
	Param1      *float64
	Param2      *float64
	Param3      *float64
	DefectFound bool
	AssetYear   *int
}

// Encoder maps a categorical method to its numeric code.
type Encoder interface {
	Code(method string) int
}

type Vector []float64

func (v Vector) Get(column int) float64 { return v[column] }

// Bytes is the canonical little-endian encoding of v.
func (v Vector) Bytes() []byte {
	buf := make([]byte, 8*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(f))
	}
	return buf
}

func (v Vector) Hash() string {
	return utils.HashBytes(v.Bytes())
}

// Transform computes one vector per input. Per-method normalization uses the
// mean of param1 across this batch and only runs when enc is non-nil.
func Transform(inputs []Input, enc Encoder) []Vector {
	out := make([]Vector, len(inputs))
	codes := make([]int, len(inputs))

	for i, in := range inputs {
		v := make(Vector, Width)

		p1, p2, p3 := orZero(in.Param1), orZero(in.Param2), orZero(in.Param3)
		v[Param1], v[Param2], v[Param3] = p1, p2, p3

		assetYear := DefaultAssetYear
		if in.AssetYear != nil {
			assetYear = *in.AssetYear
		}
		v[AssetYear] = float64(assetYear)

		if enc != nil {
			codes[i] = enc.Code(in.Method)
			v[MethodEncoded] = float64(codes[i])
		}
		if in.DefectFound {
			v[DefectFound] = 1
		}

		if !in.Date.IsZero() {
			d := in.Date.UTC()
			v[Year] = float64(d.Year())
			v[Month] = float64(d.Month())
			v[DayOfYear] = float64(d.YearDay())
			switch d.Month() {
			case time.December, time.January, time.February:
				v[IsWinter] = 1
			case time.June, time.July, time.August:
				v[IsSummer] = 1
			}
			if in.AssetYear != nil {
				age := float64(d.Year() - *in.AssetYear)
				v[AssetAge] = age
				v[AssetAgeSquared] = age * age
			}
		}

		v[Param1xParam2] = p1 * p2
		v[Param1DivParam2] = p1 / (p2 + epsilon)
		v[ParamSum] = p1 + p2
		v[ParamDiff] = math.Abs(p1 - p2)
		v[Param1Squared] = p1 * p1
		v[Param2Squared] = p2 * p2
		v[Param3Squared] = p3 * p3

		out[i] = v
	}

	if enc != nil {
		normalizeByMethod(out, codes)
	}

	return out
}

func normalizeByMethod(vectors []Vector, codes []int) {
	sums := make(map[int]float64)
	counts := make(map[int]int)
	for i, v := range vectors {
		sums[codes[i]] += v[Param1]
		counts[codes[i]]++
	}
	for i, v := range vectors {
		mean := sums[codes[i]] / float64(counts[codes[i]])
		v[Param1Normalized] = v[Param1] / (mean + epsilon)
	}
}

func orZero(p *float64) float64 {
	if p == nil || math.IsNaN(*p) {
		return 0
	}
	return *p
}
