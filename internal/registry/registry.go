// Package registry declares the storage contract used by reconciliation,
// ingestion and training. Writes for one import batch go through a single Tx.
package registry

import (
	"context"

	"github.com/qrlbk/IntegrityOS/internal/storage/models"
)

type Store interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	LabeledSamples(ctx context.Context) ([]models.LabeledSample, error)
	SaveModelSnapshot(ctx context.Context, snapshot *models.ModelSnapshot) error
	// LatestModelSnapshot returns nil, nil when nothing was ever trained.
	LatestModelSnapshot(ctx context.Context) (*models.ModelSnapshot, error)

	AssetsForMap(ctx context.Context) ([]models.Asset, error)
	AssignCoordinates(ctx context.Context, externalID int64, lat, lon float64) (*models.Asset, error)
	EnsureRoutes(ctx context.Context, names []string) (int, error)
	Stats(ctx context.Context) (*models.RegistryStats, error)
}

type Tx interface {
	// RouteByName returns nil, nil when the route does not exist.
	RouteByName(ctx context.Context, name string) (*models.Route, error)
	CreateRoute(ctx context.Context, name string) (*models.Route, error)

	AssetsByExternalIDs(ctx context.Context, ids []int64) (map[int64]models.Asset, error)
	// InsertAsset sets asset.ID, or returns apperrors.ErrDuplicate when the
	// external id is already taken.
	InsertAsset(ctx context.Context, asset *models.Asset) error

	ExistingEventIDs(ctx context.Context, ids []int64) (map[int64]bool, error)
	InsertEvents(ctx context.Context, events []*models.InspectionEvent) error
	UpdateLabels(ctx context.Context, labels map[int64]models.Label) error
	InsertPredictionLogs(ctx context.Context, logs []models.PredictionLog) error
	EventsForReclassification(ctx context.Context) ([]models.LabeledSample, error)

	// DeleteAll removes events, assets and prediction logs. Routes are kept.
	DeleteAll(ctx context.Context) error
}
