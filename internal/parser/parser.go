package parser

import (
	"errors"
	"time"

	"github.com/qrlbk/IntegrityOS/internal/apperrors"
	"github.com/qrlbk/IntegrityOS/internal/storage/models"
	"github.com/qrlbk/IntegrityOS/internal/tabular"
)

// firstDataRow is the spreadsheet line of the first record; line 1 is the header.
const firstDataRow = 2

var requiredAssetColumns = []string{"object_id", "object_name", "object_type", "pipeline_id"}

var requiredEventColumns = []string{"diag_id", "object_id", "method", "date"}

type AssetRecord struct {
	Row        int
	ExternalID int64
	Name       string
	Category   models.AssetCategory
	Route      string
	Lat        *float64
	Lon        *float64
	Year       *int
	Material   *string
}

type EventRecord struct {
	Row               int
	ExternalID        int64
	AssetExternalID   int64
	Method            models.InspectionMethod
	Date              time.Time
	Temperature       *float64
	Humidity          *float64
	Illumination      *float64
	DefectFound       bool
	DefectDescription string
	Param1            *float64
	Param2            *float64
	Param3            *float64
	QualityGrade      *models.QualityGrade
}

// ParseAssets converts every row of t or reports why it could not. The
// returned error is a *apperrors.SchemaError and means nothing was parsed.
func ParseAssets(t *tabular.Table) ([]AssetRecord, []apperrors.RowError, error) {
	if err := requireColumns(t, requiredAssetColumns); err != nil {
		return nil, nil, err
	}

	records := make([]AssetRecord, 0, len(t.Rows))
	var rowErrors []apperrors.RowError

	for i, row := range t.Rows {
		line := i + firstDataRow
		rec, err := parseAssetRow(t, row)
		if err != nil {
			rowErrors = append(rowErrors, toRowError(t.Name, line, err))
			continue
		}
		rec.Row = line
		records = append(records, rec)
	}

	return records, rowErrors, nil
}

func parseAssetRow(t *tabular.Table, row []string) (AssetRecord, error) {
	var rec AssetRecord
	var err error

	if row == nil {
		return rec, errors.New("empty row")
	}

	if rec.ExternalID, err = parseID("object_id", t.Value(row, "object_id")); err != nil {
		return rec, err
	}

	rec.Name = t.Value(row, "object_name")
	if rec.Name == "" {
		return rec, invalid("object_name", "is required")
	}

	if rec.Category, err = models.ParseAssetCategory(t.Value(row, "object_type")); err != nil {
		return rec, invalid("object_type", "%v", err)
	}

	rec.Route = t.Value(row, "pipeline_id")
	if rec.Route == "" {
		return rec, invalid("pipeline_id", "is required")
	}

	if rec.Lat, err = parseOptionalFloat("lat", t.Value(row, "lat")); err != nil {
		return rec, err
	}
	if rec.Lon, err = parseOptionalFloat("lon", t.Value(row, "lon")); err != nil {
		return rec, err
	}
	if (rec.Lat == nil) != (rec.Lon == nil) {
		return rec, invalid("lat", "lat and lon must be given together")
	}
	if rec.Lat != nil && (*rec.Lat < -90 || *rec.Lat > 90) {
		return rec, invalid("lat", "%v out of range", *rec.Lat)
	}
	if rec.Lon != nil && (*rec.Lon < -180 || *rec.Lon > 180) {
		return rec, invalid("lon", "%v out of range", *rec.Lon)
	}

	yearColumn := "year"
	if t.Index(yearColumn) < 0 {
		yearColumn = "construction_year"
	}
	if rec.Year, err = parseOptionalYear(yearColumn, t.Value(row, yearColumn)); err != nil {
		return rec, err
	}

	rec.Material = optionalString(t.Value(row, "material"))

	return rec, nil
}

// ParseEvents is the inspection counterpart of ParseAssets.
func ParseEvents(t *tabular.Table) ([]EventRecord, []apperrors.RowError, error) {
	if err := requireColumns(t, requiredEventColumns); err != nil {
		return nil, nil, err
	}

	records := make([]EventRecord, 0, len(t.Rows))
	var rowErrors []apperrors.RowError

	for i, row := range t.Rows {
		line := i + firstDataRow
		rec, err := parseEventRow(t, row)
		if err != nil {
			rowErrors = append(rowErrors, toRowError(t.Name, line, err))
			continue
		}
		rec.Row = line
		records = append(records, rec)
	}

	return records, rowErrors, nil
}

func parseEventRow(t *tabular.Table, row []string) (EventRecord, error) {
	var rec EventRecord
	var err error

	if row == nil {
		return rec, errors.New("empty row")
	}

	if rec.ExternalID, err = parseID("diag_id", t.Value(row, "diag_id")); err != nil {
		return rec, err
	}
	if rec.AssetExternalID, err = parseID("object_id", t.Value(row, "object_id")); err != nil {
		return rec, err
	}
	if rec.Method, err = models.ParseInspectionMethod(t.Value(row, "method")); err != nil {
		return rec, invalid("method", "%v", err)
	}
	if rec.Date, err = parseDate("date", t.Value(row, "date")); err != nil {
		return rec, err
	}

	readings := []struct {
		column string
		dst    **float64
	}{
		{"temperature", &rec.Temperature},
		{"humidity", &rec.Humidity},
		{"illumination", &rec.Illumination},
		{"param1", &rec.Param1},
		{"param2", &rec.Param2},
		{"param3", &rec.Param3},
	}
	for _, r := range readings {
		if *r.dst, err = parseOptionalFloat(r.column, t.Value(row, r.column)); err != nil {
			return rec, err
		}
	}

	if rec.DefectFound, err = parseBool("defect_found", t.Value(row, "defect_found")); err != nil {
		return rec, err
	}
	rec.DefectDescription = t.Value(row, "defect_description")

	if raw := t.Value(row, "quality_grade"); raw != "" {
		grade, err := models.ParseQualityGrade(raw)
		if err != nil {
			return rec, invalid("quality_grade", "%v", err)
		}
		rec.QualityGrade = &grade
	}

	return rec, nil
}

func toRowError(source string, line int, err error) apperrors.RowError {
	rowErr := apperrors.RowError{
		Source:  source,
		Row:     line,
		Kind:    apperrors.RowValidation,
		Message: err.Error(),
	}
	var fe *fieldError
	if errors.As(err, &fe) {
		rowErr.Field = fe.field
		rowErr.Message = fe.message
	}
	return rowErr
}
