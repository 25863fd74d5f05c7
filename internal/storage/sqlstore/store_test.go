package sqlstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qrlbk/IntegrityOS/internal/apperrors"
	"github.com/qrlbk/IntegrityOS/internal/registry"
	"github.com/qrlbk/IntegrityOS/internal/storage/models"
)

func newSQLiteClient(t *testing.T) *Client {
	t.Helper()
	client, err := NewClient(DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.InitSchema())
	return client
}

func ptr[T any](v T) *T { return &v }

func TestSQLite_AssetLifecycle(t *testing.T) {
	client := newSQLiteClient(t)
	ctx := context.Background()

	created, err := client.EnsureRoutes(ctx, []string{"MT-01", "MT-02", "MT-01"})
	require.NoError(t, err)
	assert.Equal(t, 2, created)

	err = client.WithTx(ctx, func(tx registry.Tx) error {
		route, err := tx.RouteByName(ctx, "MT-01")
		require.NoError(t, err)
		require.NotNil(t, route)

		missing, err := tx.RouteByName(ctx, "mt-01")
		require.NoError(t, err)
		assert.Nil(t, missing, "route names are case-sensitive")

		verified := &models.Asset{
			ExternalID: 1, Name: "Segment 1", Category: models.CategorySegment, RouteID: route.ID,
			Lat: ptr(10.0), Lon: ptr(20.0), Year: ptr(1998), LocationState: models.LocationVerified,
		}
		require.NoError(t, tx.InsertAsset(ctx, verified))
		assert.NotZero(t, verified.ID)

		pending := &models.Asset{
			ExternalID: 7, Name: "Asset-7", Category: models.CategorySegment, RouteID: route.ID,
			LocationState: models.LocationPending,
		}
		require.NoError(t, tx.InsertAsset(ctx, pending))

		dup := &models.Asset{ExternalID: 7, Name: "again", Category: models.CategoryCrane, RouteID: route.ID, LocationState: models.LocationPending}
		assert.ErrorIs(t, tx.InsertAsset(ctx, dup), apperrors.ErrDuplicate)

		found, err := tx.AssetsByExternalIDs(ctx, []int64{1, 7, 99})
		require.NoError(t, err)
		assert.Len(t, found, 2)
		assert.Equal(t, "Asset-7", found[7].Name)
		assert.Equal(t, 1998, *found[1].Year)
		return nil
	})
	require.NoError(t, err)

	onMap, err := client.AssetsForMap(ctx)
	require.NoError(t, err)
	require.Len(t, onMap, 1)
	assert.Equal(t, int64(1), onMap[0].ExternalID)

	located, err := client.AssignCoordinates(ctx, 7, 51.1, 71.4)
	require.NoError(t, err)
	assert.Equal(t, models.LocationVerified, located.LocationState)

	onMap, err = client.AssetsForMap(ctx)
	require.NoError(t, err)
	assert.Len(t, onMap, 2)

	_, err = client.AssignCoordinates(ctx, 404, 0, 0)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestSQLite_EventsAndSamples(t *testing.T) {
	client := newSQLiteClient(t)
	ctx := context.Background()
	_, err := client.EnsureRoutes(ctx, []string{"MT-01"})
	require.NoError(t, err)

	date := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	high := models.LabelHigh

	err = client.WithTx(ctx, func(tx registry.Tx) error {
		route, _ := tx.RouteByName(ctx, "MT-01")
		asset := &models.Asset{ExternalID: 3, Name: "S3", Category: models.CategorySegment, RouteID: route.ID, Year: ptr(2005), LocationState: models.LocationPending}
		require.NoError(t, tx.InsertAsset(ctx, asset))

		events := []*models.InspectionEvent{
			{ExternalID: 100, AssetID: asset.ID, Method: models.MethodMFL, Date: date, DefectFound: true, Param1: ptr(25.0), Label: &high, BatchID: "b1"},
			{ExternalID: 101, AssetID: asset.ID, Method: models.MethodUT, Date: date, BatchID: "b1"},
		}
		require.NoError(t, tx.InsertEvents(ctx, events))

		existing, err := tx.ExistingEventIDs(ctx, []int64{100, 101, 102})
		require.NoError(t, err)
		assert.Equal(t, map[int64]bool{100: true, 101: true}, existing)

		err = tx.InsertEvents(ctx, []*models.InspectionEvent{{ExternalID: 100, AssetID: asset.ID, Method: models.MethodUT, Date: date, BatchID: "b2"}})
		assert.ErrorIs(t, err, apperrors.ErrDuplicate)
		return nil
	})
	require.NoError(t, err)

	samples, err := client.LabeledSamples(ctx)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, int64(100), samples[0].EventExternalID)
	assert.Equal(t, models.LabelHigh, samples[0].Label)
	assert.Equal(t, 2005, *samples[0].AssetYear)
	assert.True(t, samples[0].DefectFound)
	assert.Equal(t, date, samples[0].Date)

	err = client.WithTx(ctx, func(tx registry.Tx) error {
		return tx.UpdateLabels(ctx, map[int64]models.Label{101: models.LabelNormal})
	})
	require.NoError(t, err)

	stats, err := client.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.LabeledEvents)
	assert.Equal(t, 1, stats.HighCriticality)
	assert.Equal(t, 1, stats.PendingAssets)

	err = client.WithTx(ctx, func(tx registry.Tx) error { return tx.DeleteAll(ctx) })
	require.NoError(t, err)
	stats, err = client.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Assets)
	assert.Zero(t, stats.Events)
	assert.Equal(t, 1, stats.Routes)
}

func TestSQLite_ModelSnapshots(t *testing.T) {
	client := newSQLiteClient(t)
	ctx := context.Background()

	none, err := client.LatestModelSnapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, none)

	for seq := int64(1); seq <= 2; seq++ {
		snap := &models.ModelSnapshot{
			Version: "v" + string(rune('0'+seq)), Sequence: seq, Samples: 120,
			Metrics: []byte(`{}`), Encoder: []byte(`[]`), Scaler: []byte(`{}`), Forest: []byte(`{}`),
		}
		require.NoError(t, client.SaveModelSnapshot(ctx, snap))
	}

	latest, err := client.LatestModelSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "v2", latest.Version)
	assert.Equal(t, []byte(`{}`), latest.Forest)
}
