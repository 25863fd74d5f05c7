package models

import (
	"fmt"
	"strings"
	"time"
)

type AssetCategory string

const (
	CategorySegment    AssetCategory = "segment"
	CategoryCrane      AssetCategory = "crane"
	CategoryCompressor AssetCategory = "compressor"
)

func ParseAssetCategory(s string) (AssetCategory, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "segment", "pipeline_section", "pipeline_segment", "section":
		return CategorySegment, nil
	case "crane":
		return CategoryCrane, nil
	case "compressor":
		return CategoryCompressor, nil
	}
	return "", fmt.Errorf("unknown asset category %q", s)
}

type LocationState string

const (
	LocationPending     LocationState = "PENDING"
	LocationVerified    LocationState = "VERIFIED"
	LocationNeedsUpdate LocationState = "NEEDS_UPDATE"
)

type InspectionMethod string

const (
	MethodVIK   InspectionMethod = "VIK"
	MethodPVK   InspectionMethod = "PVK"
	MethodMPK   InspectionMethod = "MPK"
	MethodUZK   InspectionMethod = "UZK"
	MethodRGK   InspectionMethod = "RGK"
	MethodTVK   InspectionMethod = "TVK"
	MethodVIBRO InspectionMethod = "VIBRO"
	MethodMFL   InspectionMethod = "MFL"
	MethodTFI   InspectionMethod = "TFI"
	MethodGEO   InspectionMethod = "GEO"
	MethodUTWM  InspectionMethod = "UTWM"
	MethodUT    InspectionMethod = "UT"
	MethodEC    InspectionMethod = "EC"
)

var inspectionMethods = map[InspectionMethod]struct{}{
	MethodVIK: {}, MethodPVK: {}, MethodMPK: {}, MethodUZK: {}, MethodRGK: {},
	MethodTVK: {}, MethodVIBRO: {}, MethodMFL: {}, MethodTFI: {}, MethodGEO: {},
	MethodUTWM: {}, MethodUT: {}, MethodEC: {},
}

func ParseInspectionMethod(s string) (InspectionMethod, error) {
	m := InspectionMethod(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := inspectionMethods[m]; !ok {
		return "", fmt.Errorf("unknown inspection method %q", s)
	}
	return m, nil
}

// QualityGrade is ordered from best (satisfactory) to worst (unacceptable).
type QualityGrade string

const (
	GradeSatisfactory   QualityGrade = "satisfactory"
	GradeAcceptable     QualityGrade = "acceptable"
	GradeRequiresAction QualityGrade = "requires_action"
	GradeUnacceptable   QualityGrade = "unacceptable"
)

var gradeRank = map[QualityGrade]int{
	GradeSatisfactory:   0,
	GradeAcceptable:     1,
	GradeRequiresAction: 2,
	GradeUnacceptable:   3,
}

var gradeAliases = map[string]QualityGrade{
	"satisfactory":      GradeSatisfactory,
	"удовлетворительно": GradeSatisfactory,
	"acceptable":        GradeAcceptable,
	"допустимо":         GradeAcceptable,
	"requires_action":   GradeRequiresAction,
	"requires_measures": GradeRequiresAction,
	"требует_мер":       GradeRequiresAction,
	"требует мер":       GradeRequiresAction,
	"unacceptable":      GradeUnacceptable,
	"недопустимо":       GradeUnacceptable,
}

func ParseQualityGrade(s string) (QualityGrade, error) {
	if g, ok := gradeAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return g, nil
	}
	return "", fmt.Errorf("unknown quality grade %q", s)
}

func (g QualityGrade) Rank() int {
	if r, ok := gradeRank[g]; ok {
		return r
	}
	return -1
}

// Worse reports whether g is a worse grade than other.
func (g QualityGrade) Worse(other QualityGrade) bool {
	return g.Rank() > other.Rank()
}

type Label string

const (
	LabelNormal Label = "normal"
	LabelMedium Label = "medium"
	LabelHigh   Label = "high"
)

// Labels is the class order used by the classifier, metrics and confusion matrix.
var Labels = []Label{LabelNormal, LabelMedium, LabelHigh}

func ParseLabel(s string) (Label, error) {
	switch Label(strings.ToLower(strings.TrimSpace(s))) {
	case LabelNormal:
		return LabelNormal, nil
	case LabelMedium:
		return LabelMedium, nil
	case LabelHigh:
		return LabelHigh, nil
	}
	return "", fmt.Errorf("unknown criticality label %q", s)
}

// Index returns the position of l in Labels, or -1.
func (l Label) Index() int {
	for i, known := range Labels {
		if known == l {
			return i
		}
	}
	return -1
}

func (l Label) Severity() int {
	return l.Index()
}

func MaxLabel(a, b Label) Label {
	if b.Severity() > a.Severity() {
		return b
	}
	return a
}

type Strategy string

const (
	StrategyRuleBased Strategy = "rule_based"
	StrategyTrained   Strategy = "trained"
)

type Route struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}

type Asset struct {
	ID            int64
	ExternalID    int64
	Name          string
	Category      AssetCategory
	RouteID       int64
	Lat           *float64
	Lon           *float64
	Year          *int
	Material      *string
	LocationState LocationState
	CreatedAt     time.Time
}

func (a *Asset) HasCoordinates() bool {
	return a.Lat != nil && a.Lon != nil
}

type InspectionEvent struct {
	ID                int64
	ExternalID        int64
	AssetID           int64
	Method            InspectionMethod
	Date              time.Time
	Temperature       *float64
	Humidity          *float64
	Illumination      *float64
	DefectFound       bool
	DefectDescription string
	Param1            *float64
	Param2            *float64
	Param3            *float64
	QualityGrade      *QualityGrade
	Label             *Label
	BatchID           string
	CreatedAt         time.Time
}

// LabeledSample is an event with a non-null label joined with its asset's year.
type LabeledSample struct {
	EventExternalID   int64
	Method            InspectionMethod
	Date              time.Time
	DefectFound       bool
	DefectDescription string
	Param1            *float64
	Param2            *float64
	Param3            *float64
	AssetYear         *int
	Label             Label
}

type ModelSnapshot struct {
	ID        int64
	Version   string
	Sequence  int64
	Samples   int
	Metrics   []byte
	Encoder   []byte
	Scaler    []byte
	Forest    []byte
	CreatedAt time.Time
}

type PredictionLog struct {
	EventExternalID *int64
	Label           Label
	Strategy        Strategy
	ModelVersion    string
	ProbNormal      *float64
	ProbMedium      *float64
	ProbHigh        *float64
	FeatureHash     string
	BatchID         string
	CreatedAt       time.Time
}

type RegistryStats struct {
	Routes          int `json:"routes"`
	Assets          int `json:"assets"`
	PendingAssets   int `json:"pending_assets"`
	Events          int `json:"events"`
	LabeledEvents   int `json:"labeled_events"`
	HighCriticality int `json:"high_criticality"`
}
