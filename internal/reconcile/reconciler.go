// Package reconcile resolves the asset references of an import batch against
// the registry, inserting explicit assets and auto-creating placeholders.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/qrlbk/IntegrityOS/internal/apperrors"
	"github.com/qrlbk/IntegrityOS/internal/parser"
	"github.com/qrlbk/IntegrityOS/internal/registry"
	"github.com/qrlbk/IntegrityOS/internal/storage/models"
	"github.com/qrlbk/IntegrityOS/pkg/logger"
)

type RoutePolicy string

const (
	// RoutesStrict fails asset rows that name an unknown route.
	RoutesStrict RoutePolicy = "strict"
	// RoutesCreate creates unknown routes on first reference.
	RoutesCreate RoutePolicy = "create"

	DefaultAutoCreatedRoute = "AUTO-CREATED"
)

type Config struct {
	RoutePolicy      RoutePolicy
	AutoCreatedRoute string
}

type Reconciler struct {
	cfg Config
}

func NewReconciler(cfg Config) *Reconciler {
	if cfg.RoutePolicy == "" {
		cfg.RoutePolicy = RoutesStrict
	}
	if cfg.AutoCreatedRoute == "" {
		cfg.AutoCreatedRoute = DefaultAutoCreatedRoute
	}
	return &Reconciler{cfg: cfg}
}

// Reference is an event row pointing at an asset.
type Reference struct {
	Source          string
	Row             int
	AssetExternalID int64
}

type Input struct {
	AssetSource string
	Assets      []parser.AssetRecord
	// AssetSourceSupplied disables auto-creation: unresolved references
	// become row errors instead.
	AssetSourceSupplied bool
	References          []Reference
}

type Result struct {
	// Handles maps asset external ids to registry ids.
	Handles       map[int64]int64
	Assets        map[int64]models.Asset
	Imported      int
	AutoCreated   int
	Skipped       int
	RoutesCreated int
	// AssetErrors are explicit asset rows that were not stored.
	AssetErrors []apperrors.RowError
	// ReferenceErrors are event rows whose asset could not be resolved.
	ReferenceErrors []apperrors.RowError
}

func (r *Result) Resolved(externalID int64) bool {
	_, ok := r.Handles[externalID]
	return ok
}

type run struct {
	cfg    Config
	tx     registry.Tx
	routes map[string]*models.Route
	res    *Result
}

func (r *Reconciler) Reconcile(ctx context.Context, tx registry.Tx, in Input) (*Result, error) {
	state := &run{
		cfg:    r.cfg,
		tx:     tx,
		routes: make(map[string]*models.Route),
		res: &Result{
			Handles: make(map[int64]int64),
			Assets:  make(map[int64]models.Asset),
		},
	}

	records := state.dedupe(in.AssetSource, in.Assets)

	ids := make([]int64, 0, len(records)+len(in.References))
	for _, rec := range records {
		ids = append(ids, rec.ExternalID)
	}
	for _, ref := range in.References {
		ids = append(ids, ref.AssetExternalID)
	}
	existing, err := tx.AssetsByExternalIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to look up assets: %w", err)
	}

	for _, rec := range records {
		if err := state.explicit(ctx, in.AssetSource, rec, existing); err != nil {
			return nil, err
		}
	}

	for _, ref := range in.References {
		id := ref.AssetExternalID
		if state.res.Resolved(id) {
			continue
		}
		if asset, ok := existing[id]; ok {
			state.resolve(asset)
			continue
		}
		if in.AssetSourceSupplied {
			state.res.ReferenceErrors = append(state.res.ReferenceErrors, apperrors.RowError{
				Source:  ref.Source,
				Row:     ref.Row,
				Kind:    apperrors.UnknownReference,
				Field:   "object_id",
				Message: fmt.Sprintf("asset %d is not in the registry or the asset file", id),
			})
			continue
		}
		if err := state.autoCreate(ctx, id); err != nil {
			return nil, err
		}
	}

	logger.Info("Assets reconciled",
		zap.Int("imported", state.res.Imported),
		zap.Int("auto_created", state.res.AutoCreated),
		zap.Int("skipped", state.res.Skipped),
		zap.Int("routes_created", state.res.RoutesCreated),
		zap.Int("asset_errors", len(state.res.AssetErrors)),
		zap.Int("reference_errors", len(state.res.ReferenceErrors)),
	)

	return state.res, nil
}

// dedupe keeps the first row for every external id.
func (s *run) dedupe(source string, assets []parser.AssetRecord) []parser.AssetRecord {
	seen := make(map[int64]int, len(assets))
	out := make([]parser.AssetRecord, 0, len(assets))
	for _, rec := range assets {
		if first, ok := seen[rec.ExternalID]; ok {
			s.res.AssetErrors = append(s.res.AssetErrors, apperrors.RowError{
				Source:  source,
				Row:     rec.Row,
				Kind:    apperrors.DuplicateRow,
				Field:   "object_id",
				Message: fmt.Sprintf("asset %d already defined on row %d", rec.ExternalID, first),
			})
			continue
		}
		seen[rec.ExternalID] = rec.Row
		out = append(out, rec)
	}
	return out
}

func (s *run) explicit(ctx context.Context, source string, rec parser.AssetRecord, existing map[int64]models.Asset) error {
	if asset, ok := existing[rec.ExternalID]; ok {
		s.resolve(asset)
		s.res.Skipped++
		return nil
	}

	route, err := s.route(ctx, rec.Route, s.cfg.RoutePolicy == RoutesCreate)
	if err != nil {
		return err
	}
	if route == nil {
		s.res.AssetErrors = append(s.res.AssetErrors, apperrors.RowError{
			Source:  source,
			Row:     rec.Row,
			Kind:    apperrors.UnknownRoute,
			Field:   "pipeline_id",
			Message: fmt.Sprintf("route %q is not registered", rec.Route),
		})
		return nil
	}

	asset := models.Asset{
		ExternalID:    rec.ExternalID,
		Name:          rec.Name,
		Category:      rec.Category,
		RouteID:       route.ID,
		Lat:           rec.Lat,
		Lon:           rec.Lon,
		Year:          rec.Year,
		Material:      rec.Material,
		LocationState: models.LocationPending,
	}
	if asset.HasCoordinates() {
		asset.LocationState = models.LocationVerified
	}

	inserted, err := s.insert(ctx, &asset)
	if err != nil {
		return err
	}
	if inserted {
		s.res.Imported++
	} else {
		s.res.Skipped++
	}
	return nil
}

func (s *run) autoCreate(ctx context.Context, externalID int64) error {
	route, err := s.route(ctx, s.cfg.AutoCreatedRoute, true)
	if err != nil {
		return err
	}

	asset := models.Asset{
		ExternalID:    externalID,
		Name:          fmt.Sprintf("Asset-%d", externalID),
		Category:      models.CategorySegment,
		RouteID:       route.ID,
		LocationState: models.LocationPending,
	}
	inserted, err := s.insert(ctx, &asset)
	if err != nil {
		return err
	}
	if inserted {
		s.res.AutoCreated++
		logger.Debug("Asset auto-created", zap.Int64("external_id", externalID))
	}
	return nil
}

// insert stores asset, or adopts the row a concurrent writer stored first.
func (s *run) insert(ctx context.Context, asset *models.Asset) (bool, error) {
	err := s.tx.InsertAsset(ctx, asset)
	if err == nil {
		s.resolve(*asset)
		return true, nil
	}
	if !errors.Is(err, apperrors.ErrDuplicate) {
		return false, fmt.Errorf("failed to insert asset %d: %w", asset.ExternalID, err)
	}

	found, err := s.tx.AssetsByExternalIDs(ctx, []int64{asset.ExternalID})
	if err != nil {
		return false, fmt.Errorf("failed to re-read asset %d: %w", asset.ExternalID, err)
	}
	winner, ok := found[asset.ExternalID]
	if !ok {
		return false, fmt.Errorf("asset %d reported as duplicate but not found", asset.ExternalID)
	}
	s.resolve(winner)
	return false, nil
}

// route returns nil when name is unknown and create is false.
func (s *run) route(ctx context.Context, name string, create bool) (*models.Route, error) {
	if route, ok := s.routes[name]; ok {
		return route, nil
	}
	route, err := s.tx.RouteByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to look up route %q: %w", name, err)
	}
	if route == nil && create {
		route, err = s.tx.CreateRoute(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to create route %q: %w", name, err)
		}
		s.res.RoutesCreated++
	}
	if route != nil {
		s.routes[name] = route
	}
	return route, nil
}

func (s *run) resolve(asset models.Asset) {
	s.res.Handles[asset.ExternalID] = asset.ID
	s.res.Assets[asset.ExternalID] = asset
}
