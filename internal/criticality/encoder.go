package criticality

import (
	"encoding/json"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// MethodEncoder maps inspection methods to their index in sorted order.
// Methods unseen at fit time map to code 0.
type MethodEncoder struct {
	Classes []string `json:"classes"`
	codes   map[string]int
}

func FitMethodEncoder(methods []string) *MethodEncoder {
	seen := make(map[string]struct{}, len(methods))
	for _, m := range methods {
		seen[m] = struct{}{}
	}
	classes := make([]string, 0, len(seen))
	for m := range seen {
		classes = append(classes, m)
	}
	sort.Strings(classes)

	e := &MethodEncoder{Classes: classes}
	e.index()
	return e
}

func (e *MethodEncoder) index() {
	e.codes = make(map[string]int, len(e.Classes))
	for i, c := range e.Classes {
		e.codes[c] = i
	}
}

func (e *MethodEncoder) UnmarshalJSON(data []byte) error {
	var raw struct {
		Classes []string `json:"classes"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.Classes = raw.Classes
	e.index()
	return nil
}

func (e *MethodEncoder) Code(method string) int {
	if code, ok := e.codes[method]; ok {
		return code
	}
	return 0
}

func (e *MethodEncoder) Known(method string) bool {
	_, ok := e.codes[method]
	return ok
}

// Scaler standardizes each column to zero mean and unit variance. Constant
// columns keep a divisor of 1.
type Scaler struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

func FitScaler(x [][]float64) (*Scaler, error) {
	if len(x) == 0 {
		return nil, fmt.Errorf("cannot fit scaler on zero rows")
	}
	width := len(x[0])
	s := &Scaler{Mean: make([]float64, width), Std: make([]float64, width)}

	column := make([]float64, len(x))
	for j := 0; j < width; j++ {
		for i, row := range x {
			if len(row) != width {
				return nil, fmt.Errorf("row %d has %d columns, expected %d", i, len(row), width)
			}
			column[i] = row[j]
		}
		mean, std := stat.PopMeanStdDev(column, nil)
		if std == 0 {
			std = 1
		}
		s.Mean[j], s.Std[j] = mean, std
	}
	return s, nil
}

func (s *Scaler) Transform(v []float64) []float64 {
	out := make([]float64, len(v))
	for j, x := range v {
		if j >= len(s.Mean) {
			out[j] = x
			continue
		}
		out[j] = (x - s.Mean[j]) / s.Std[j]
	}
	return out
}
