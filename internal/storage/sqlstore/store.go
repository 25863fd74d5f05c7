package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/qrlbk/IntegrityOS/internal/apperrors"
	"github.com/qrlbk/IntegrityOS/internal/registry"
	"github.com/qrlbk/IntegrityOS/internal/storage/models"
	"github.com/qrlbk/IntegrityOS/pkg/logger"
)

var _ registry.Store = (*Client)(nil)

func (c *Client) LabeledSamples(ctx context.Context) ([]models.LabeledSample, error) {
	var rows []sampleRow
	query := sampleQuery + ` WHERE e.label IS NOT NULL ORDER BY e.external_id`
	if err := c.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to query labeled samples: %w", err)
	}

	samples := make([]models.LabeledSample, len(rows))
	for i, r := range rows {
		samples[i] = r.toModel()
	}
	return samples, nil
}

func (c *Client) SaveModelSnapshot(ctx context.Context, snapshot *models.ModelSnapshot) error {
	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = time.Now().UTC()
	}

	query := c.db.Rebind(`
		INSERT INTO model_snapshots (version, sequence, samples, metrics, encoder, scaler, forest, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`)

	err := c.db.QueryRowxContext(ctx, query,
		snapshot.Version,
		snapshot.Sequence,
		snapshot.Samples,
		snapshot.Metrics,
		snapshot.Encoder,
		snapshot.Scaler,
		snapshot.Forest,
		snapshot.CreatedAt.Unix(),
	).Scan(&snapshot.ID)
	if err != nil {
		return fmt.Errorf("failed to save model snapshot: %w", err)
	}

	logger.Info("Model snapshot saved", zap.String("version", snapshot.Version), zap.Int64("id", snapshot.ID))
	return nil
}

func (c *Client) LatestModelSnapshot(ctx context.Context) (*models.ModelSnapshot, error) {
	var row snapshotRow
	err := c.db.GetContext(ctx, &row, `
		SELECT id, version, sequence, samples, metrics, encoder, scaler, forest, created_at
		FROM model_snapshots
		ORDER BY sequence DESC
		LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load model snapshot: %w", err)
	}

	return &models.ModelSnapshot{
		ID:        row.ID,
		Version:   row.Version,
		Sequence:  row.Sequence,
		Samples:   row.Samples,
		Metrics:   row.Metrics,
		Encoder:   row.Encoder,
		Scaler:    row.Scaler,
		Forest:    row.Forest,
		CreatedAt: time.Unix(row.CreatedAt, 0).UTC(),
	}, nil
}

// AssetsForMap returns geometry-complete assets only.
func (c *Client) AssetsForMap(ctx context.Context) ([]models.Asset, error) {
	var rows []assetRow
	query := c.db.Rebind(`SELECT ` + assetColumns + ` FROM assets
		WHERE location_state = ? AND lat IS NOT NULL AND lon IS NOT NULL
		ORDER BY external_id`)
	if err := c.db.SelectContext(ctx, &rows, query, string(models.LocationVerified)); err != nil {
		return nil, fmt.Errorf("failed to query map assets: %w", err)
	}

	assets := make([]models.Asset, len(rows))
	for i, r := range rows {
		assets[i] = r.toModel()
	}
	return assets, nil
}

// AssignCoordinates is the only way an asset becomes VERIFIED after creation.
func (c *Client) AssignCoordinates(ctx context.Context, externalID int64, lat, lon float64) (*models.Asset, error) {
	res, err := c.db.ExecContext(ctx, c.db.Rebind(`
		UPDATE assets SET lat = ?, lon = ?, location_state = ? WHERE external_id = ?`),
		lat, lon, string(models.LocationVerified), externalID)
	if err != nil {
		return nil, fmt.Errorf("failed to update coordinates: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("asset %d: %w", externalID, apperrors.ErrNotFound)
	}

	var updated assetRow
	query := c.db.Rebind(`SELECT ` + assetColumns + ` FROM assets WHERE external_id = ?`)
	if err := c.db.GetContext(ctx, &updated, query, externalID); err != nil {
		return nil, fmt.Errorf("failed to reload asset %d: %w", externalID, err)
	}

	asset := updated.toModel()
	logger.Info("Asset coordinates assigned", zap.Int64("external_id", externalID))
	return &asset, nil
}

func (c *Client) EnsureRoutes(ctx context.Context, names []string) (int, error) {
	created := 0
	err := c.WithTx(ctx, func(tx registry.Tx) error {
		for _, name := range names {
			existing, err := tx.RouteByName(ctx, name)
			if err != nil {
				return err
			}
			if existing != nil {
				continue
			}
			if _, err := tx.CreateRoute(ctx, name); err != nil {
				return err
			}
			created++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return created, nil
}

func (c *Client) Stats(ctx context.Context) (*models.RegistryStats, error) {
	stats := &models.RegistryStats{}
	counts := []struct {
		dst   *int
		query string
		args  []any
	}{
		{&stats.Routes, `SELECT COUNT(*) FROM routes`, nil},
		{&stats.Assets, `SELECT COUNT(*) FROM assets`, nil},
		{&stats.PendingAssets, `SELECT COUNT(*) FROM assets WHERE location_state = ?`, []any{string(models.LocationPending)}},
		{&stats.Events, `SELECT COUNT(*) FROM inspection_events`, nil},
		{&stats.LabeledEvents, `SELECT COUNT(*) FROM inspection_events WHERE label IS NOT NULL`, nil},
		{&stats.HighCriticality, `SELECT COUNT(*) FROM inspection_events WHERE label = ?`, []any{string(models.LabelHigh)}},
	}

	for _, q := range counts {
		if err := c.db.GetContext(ctx, q.dst, c.db.Rebind(q.query), q.args...); err != nil {
			return nil, fmt.Errorf("failed to count registry rows: %w", err)
		}
	}
	return stats, nil
}
