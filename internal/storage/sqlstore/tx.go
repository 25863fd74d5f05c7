package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/qrlbk/IntegrityOS/internal/apperrors"
	"github.com/qrlbk/IntegrityOS/internal/storage/models"
)

type txStore struct {
	tx *sqlx.Tx
}

func (s *txStore) RouteByName(ctx context.Context, name string) (*models.Route, error) {
	var row struct {
		ID        int64  `db:"id"`
		Name      string `db:"name"`
		CreatedAt int64  `db:"created_at"`
	}
	err := s.tx.GetContext(ctx, &row, s.tx.Rebind(`SELECT id, name, created_at FROM routes WHERE name = ?`), name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get route %q: %w", name, err)
	}
	return &models.Route{ID: row.ID, Name: row.Name, CreatedAt: time.Unix(row.CreatedAt, 0).UTC()}, nil
}

func (s *txStore) CreateRoute(ctx context.Context, name string) (*models.Route, error) {
	now := unixNow()
	query := s.tx.Rebind(`
		INSERT INTO routes (name, created_at) VALUES (?, ?)
		ON CONFLICT (name) DO NOTHING
		RETURNING id`)

	var id int64
	err := s.tx.QueryRowxContext(ctx, query, name, now).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		route, getErr := s.RouteByName(ctx, name)
		if getErr != nil {
			return nil, getErr
		}
		if route == nil {
			return nil, fmt.Errorf("route %q vanished after conflict", name)
		}
		return route, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create route %q: %w", name, err)
	}
	return &models.Route{ID: id, Name: name, CreatedAt: time.Unix(now, 0).UTC()}, nil
}

func (s *txStore) AssetsByExternalIDs(ctx context.Context, ids []int64) (map[int64]models.Asset, error) {
	result := make(map[int64]models.Asset, len(ids))

	for start := 0; start < len(ids); start += idChunk {
		end := min(start+idChunk, len(ids))
		query, args, err := sqlx.In(`SELECT `+assetColumns+` FROM assets WHERE external_id IN (?)`, ids[start:end])
		if err != nil {
			return nil, fmt.Errorf("failed to build asset query: %w", err)
		}

		var rows []assetRow
		if err := s.tx.SelectContext(ctx, &rows, s.tx.Rebind(query), args...); err != nil {
			return nil, fmt.Errorf("failed to query assets: %w", err)
		}
		for _, r := range rows {
			result[r.ExternalID] = r.toModel()
		}
	}

	return result, nil
}

func (s *txStore) InsertAsset(ctx context.Context, asset *models.Asset) error {
	if asset.CreatedAt.IsZero() {
		asset.CreatedAt = time.Now().UTC()
	}

	query := s.tx.Rebind(`
		INSERT INTO assets (external_id, name, category, route_id, lat, lon, year, material, location_state, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (external_id) DO NOTHING
		RETURNING id`)

	err := s.tx.QueryRowxContext(ctx, query,
		asset.ExternalID,
		asset.Name,
		string(asset.Category),
		asset.RouteID,
		nullFloat(asset.Lat),
		nullFloat(asset.Lon),
		nullInt(asset.Year),
		nullString(asset.Material),
		string(asset.LocationState),
		asset.CreatedAt.Unix(),
	).Scan(&asset.ID)

	if errors.Is(err, sql.ErrNoRows) || isUniqueViolation(err) {
		return fmt.Errorf("asset %d: %w", asset.ExternalID, apperrors.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to insert asset %d: %w", asset.ExternalID, err)
	}
	return nil
}

func (s *txStore) ExistingEventIDs(ctx context.Context, ids []int64) (map[int64]bool, error) {
	existing := make(map[int64]bool)

	for start := 0; start < len(ids); start += idChunk {
		end := min(start+idChunk, len(ids))
		query, args, err := sqlx.In(`SELECT external_id FROM inspection_events WHERE external_id IN (?)`, ids[start:end])
		if err != nil {
			return nil, fmt.Errorf("failed to build event query: %w", err)
		}

		var found []int64
		if err := s.tx.SelectContext(ctx, &found, s.tx.Rebind(query), args...); err != nil {
			return nil, fmt.Errorf("failed to query events: %w", err)
		}
		for _, id := range found {
			existing[id] = true
		}
	}

	return existing, nil
}

func (s *txStore) InsertEvents(ctx context.Context, events []*models.InspectionEvent) error {
	if len(events) == 0 {
		return nil
	}

	stmt, err := s.tx.PreparexContext(ctx, s.tx.Rebind(`
		INSERT INTO inspection_events (
			external_id, asset_id, method, event_date, temperature, humidity, illumination,
			defect_found, defect_description, param1, param2, param3, quality_grade, label,
			batch_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("failed to prepare event insert: %w", err)
	}
	defer stmt.Close()

	now := unixNow()
	for _, e := range events {
		var grade, label sql.NullString
		if e.QualityGrade != nil {
			grade = sql.NullString{String: string(*e.QualityGrade), Valid: true}
		}
		if e.Label != nil {
			label = sql.NullString{String: string(*e.Label), Valid: true}
		}

		_, err := stmt.ExecContext(ctx,
			e.ExternalID,
			e.AssetID,
			string(e.Method),
			e.Date.Unix(),
			nullFloat(e.Temperature),
			nullFloat(e.Humidity),
			nullFloat(e.Illumination),
			e.DefectFound,
			e.DefectDescription,
			nullFloat(e.Param1),
			nullFloat(e.Param2),
			nullFloat(e.Param3),
			grade,
			label,
			e.BatchID,
			now,
		)
		if isUniqueViolation(err) {
			return fmt.Errorf("event %d: %w", e.ExternalID, apperrors.ErrDuplicate)
		}
		if err != nil {
			return fmt.Errorf("failed to insert event %d: %w", e.ExternalID, err)
		}
	}

	return nil
}

func (s *txStore) UpdateLabels(ctx context.Context, labels map[int64]models.Label) error {
	if len(labels) == 0 {
		return nil
	}

	stmt, err := s.tx.PreparexContext(ctx, s.tx.Rebind(`UPDATE inspection_events SET label = ? WHERE external_id = ?`))
	if err != nil {
		return fmt.Errorf("failed to prepare label update: %w", err)
	}
	defer stmt.Close()

	for id, label := range labels {
		if _, err := stmt.ExecContext(ctx, string(label), id); err != nil {
			return fmt.Errorf("failed to update label of event %d: %w", id, err)
		}
	}
	return nil
}

func (s *txStore) InsertPredictionLogs(ctx context.Context, logs []models.PredictionLog) error {
	if len(logs) == 0 {
		return nil
	}

	stmt, err := s.tx.PreparexContext(ctx, s.tx.Rebind(`
		INSERT INTO prediction_logs (
			event_external_id, label, strategy, model_version, prob_normal, prob_medium, prob_high,
			feature_hash, batch_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("failed to prepare prediction log insert: %w", err)
	}
	defer stmt.Close()

	now := unixNow()
	for _, l := range logs {
		var eventID sql.NullInt64
		if l.EventExternalID != nil {
			eventID = sql.NullInt64{Int64: *l.EventExternalID, Valid: true}
		}
		_, err := stmt.ExecContext(ctx,
			eventID,
			string(l.Label),
			string(l.Strategy),
			l.ModelVersion,
			nullFloat(l.ProbNormal),
			nullFloat(l.ProbMedium),
			nullFloat(l.ProbHigh),
			l.FeatureHash,
			l.BatchID,
			now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert prediction log: %w", err)
		}
	}
	return nil
}

func (s *txStore) EventsForReclassification(ctx context.Context) ([]models.LabeledSample, error) {
	var rows []sampleRow
	if err := s.tx.SelectContext(ctx, &rows, sampleQuery+` ORDER BY e.external_id`); err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}

	samples := make([]models.LabeledSample, len(rows))
	for i, r := range rows {
		samples[i] = r.toModel()
	}
	return samples, nil
}

func (s *txStore) DeleteAll(ctx context.Context) error {
	for _, table := range []string{"prediction_logs", "inspection_events", "assets"} {
		if _, err := s.tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}
