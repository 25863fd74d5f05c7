package sqlstore

import (
	"database/sql"
	"time"

	"github.com/qrlbk/IntegrityOS/internal/storage/models"
)

const assetColumns = `id, external_id, name, category, route_id, lat, lon, year, material, location_state, created_at`

type assetRow struct {
	ID            int64           `db:"id"`
	ExternalID    int64           `db:"external_id"`
	Name          string          `db:"name"`
	Category      string          `db:"category"`
	RouteID       int64           `db:"route_id"`
	Lat           sql.NullFloat64 `db:"lat"`
	Lon           sql.NullFloat64 `db:"lon"`
	Year          sql.NullInt64   `db:"year"`
	Material      sql.NullString  `db:"material"`
	LocationState string          `db:"location_state"`
	CreatedAt     int64           `db:"created_at"`
}

func (r assetRow) toModel() models.Asset {
	a := models.Asset{
		ID:            r.ID,
		ExternalID:    r.ExternalID,
		Name:          r.Name,
		Category:      models.AssetCategory(r.Category),
		RouteID:       r.RouteID,
		Lat:           floatPtr(r.Lat),
		Lon:           floatPtr(r.Lon),
		LocationState: models.LocationState(r.LocationState),
		CreatedAt:     time.Unix(r.CreatedAt, 0).UTC(),
	}
	if r.Year.Valid {
		year := int(r.Year.Int64)
		a.Year = &year
	}
	if r.Material.Valid {
		material := r.Material.String
		a.Material = &material
	}
	return a
}

type sampleRow struct {
	ExternalID        int64           `db:"external_id"`
	Method            string          `db:"method"`
	EventDate         int64           `db:"event_date"`
	DefectFound       bool            `db:"defect_found"`
	DefectDescription string          `db:"defect_description"`
	Param1            sql.NullFloat64 `db:"param1"`
	Param2            sql.NullFloat64 `db:"param2"`
	Param3            sql.NullFloat64 `db:"param3"`
	AssetYear         sql.NullInt64   `db:"asset_year"`
	Label             sql.NullString  `db:"label"`
}

const sampleQuery = `
	SELECT e.external_id, e.method, e.event_date, e.defect_found, e.defect_description,
		e.param1, e.param2, e.param3, a.year AS asset_year, e.label
	FROM inspection_events e
	JOIN assets a ON a.id = e.asset_id`

func (r sampleRow) toModel() models.LabeledSample {
	s := models.LabeledSample{
		EventExternalID:   r.ExternalID,
		Method:            models.InspectionMethod(r.Method),
		Date:              time.Unix(r.EventDate, 0).UTC(),
		DefectFound:       r.DefectFound,
		DefectDescription: r.DefectDescription,
		Param1:            floatPtr(r.Param1),
		Param2:            floatPtr(r.Param2),
		Param3:            floatPtr(r.Param3),
		Label:             models.Label(r.Label.String),
	}
	if r.AssetYear.Valid {
		year := int(r.AssetYear.Int64)
		s.AssetYear = &year
	}
	return s
}

type snapshotRow struct {
	ID        int64  `db:"id"`
	Version   string `db:"version"`
	Sequence  int64  `db:"sequence"`
	Samples   int    `db:"samples"`
	Metrics   []byte `db:"metrics"`
	Encoder   []byte `db:"encoder"`
	Scaler    []byte `db:"scaler"`
	Forest    []byte `db:"forest"`
	CreatedAt int64  `db:"created_at"`
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func unixNow() int64 {
	return time.Now().Unix()
}
