package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qrlbk/IntegrityOS/internal/apperrors"
	cache "github.com/qrlbk/IntegrityOS/internal/cache/redis"
	"github.com/qrlbk/IntegrityOS/internal/criticality"
	"github.com/qrlbk/IntegrityOS/internal/ingestion"
	"github.com/qrlbk/IntegrityOS/internal/reconcile"
	"github.com/qrlbk/IntegrityOS/internal/storage/sqlstore"
	"github.com/qrlbk/IntegrityOS/internal/training"
)

type testEnv struct {
	app    *fiber.App
	store  *sqlstore.Client
	engine *criticality.Engine
}

func newEnv(t *testing.T, trainer func(*training.Pipeline) Dependencies) *testEnv {
	t.Helper()

	store, err := sqlstore.NewClient(sqlstore.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.InitSchema())
	_, err = store.EnsureRoutes(context.Background(), []string{"MT-01"})
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	predictions, err := cache.NewClient(mr.Host(), port, "", 0, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { predictions.Close() })

	engine := criticality.NewEngine(criticality.NewRuleBased(criticality.DefaultRules()))
	cfg := training.DefaultConfig()
	cfg.Forest.Trees = 10
	pipeline := training.NewPipeline(store, engine, cfg)

	deps := Dependencies{
		Store:        store,
		Engine:       engine,
		Orchestrator: ingestion.NewOrchestrator(store, reconcile.NewReconciler(reconcile.Config{}), engine),
		Trainer:      pipeline,
		Cache:        predictions,
		CachePinger:  predictions,
	}
	if trainer != nil {
		override := trainer(pipeline)
		deps.Trainer = override.Trainer
		deps.Background = override.Background
	}

	app := fiber.New()
	Register(app, deps)
	return &testEnv{app: app, store: store, engine: engine}
}

func (e *testEnv) do(t *testing.T, req *http.Request) (int, map[string]any) {
	t.Helper()
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	body := map[string]any{}
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &body), string(raw))
	}
	return resp.StatusCode, body
}

func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func importRequest(t *testing.T, fields map[string]string, files map[string]string) *http.Request {
	t.Helper()
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	for field, content := range files {
		part, err := w.CreateFormFile(field, field+".csv")
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest("POST", "/api/v1/import", buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

const (
	eventsCSV = "diag_id,object_id,method,date,defect_found,defect_description,param1,param2\n" +
		"100,1,VIK,2024-01-15,false,,,\n" +
		"101,7,UT,2024-03-02,true,коррозия,25,0\n"
	assetsCSV = "object_id,object_name,object_type,pipeline_id,lat,lon,year\n" +
		"1,Section 1,segment,MT-01,10,20,1990\n" +
		"7,Section 7,segment,MT-01,,,\n"
)

func labeledEvents(n int) string {
	var sb strings.Builder
	sb.WriteString("diag_id,object_id,method,date,defect_found,defect_description,param1,param2\n")
	methods := []string{"VIK", "UT", "MFL"}
	for i := 0; i < n; i++ {
		fmt.Fprintf(&sb, "%d,1,%s,2023-%02d-%02d,true,,%d,%d\n", 1000+i, methods[i%3], 1+i%12, 1+i%27, i%30, i%7)
	}
	return sb.String()
}

func TestHealth(t *testing.T) {
	env := newEnv(t, nil)

	status, body := env.do(t, httptest.NewRequest("GET", "/api/v1/health", nil))
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])

	status, body = env.do(t, httptest.NewRequest("GET", "/api/v1/ready", nil))
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "ready", body["status"])
	assert.Equal(t, "ok", body["cache"])
}

func TestImportAndMap(t *testing.T) {
	env := newEnv(t, nil)

	status, body := env.do(t, importRequest(t, map[string]string{"policy": "skip_existing"}, map[string]string{
		"events": eventsCSV,
		"assets": assetsCSV,
	}))
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(2), body["assets_imported"])
	assert.Equal(t, float64(2), body["events_imported"])

	status, body = env.do(t, httptest.NewRequest("GET", "/api/v1/assets/map", nil))
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(1), body["count"], "only the verified asset is mapped")

	status, _ = env.do(t, jsonRequest("PUT", "/api/v1/assets/7/coordinates", `{"lat": 51.1, "lon": 71.4}`))
	require.Equal(t, fiber.StatusOK, status)

	_, body = env.do(t, httptest.NewRequest("GET", "/api/v1/assets/map", nil))
	assert.Equal(t, float64(2), body["count"])

	status, _ = env.do(t, jsonRequest("PUT", "/api/v1/assets/99/coordinates", `{"lat": 1, "lon": 1}`))
	assert.Equal(t, fiber.StatusNotFound, status)

	status, _ = env.do(t, jsonRequest("PUT", "/api/v1/assets/7/coordinates", `{"lat": 91, "lon": 1}`))
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, body = env.do(t, httptest.NewRequest("GET", "/api/v1/stats", nil))
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(0), body["pending_assets"])
	assert.Equal(t, float64(1), body["high_criticality"])
}

func TestImportDetectsUnlabeledFiles(t *testing.T) {
	env := newEnv(t, nil)

	status, body := env.do(t, importRequest(t, nil, map[string]string{
		"file1": assetsCSV,
		"file2": eventsCSV,
	}))
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Equal(t, float64(2), body["events_imported"])
}

func TestImportRejectsBadRequests(t *testing.T) {
	env := newEnv(t, nil)

	status, _ := env.do(t, importRequest(t, map[string]string{"policy": "merge"}, map[string]string{"events": eventsCSV}))
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, body := env.do(t, importRequest(t, nil, map[string]string{"assets": assetsCSV}))
	assert.Equal(t, fiber.StatusUnprocessableEntity, status)
	result, ok := body["result"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "failed", result["stage"])
}

func TestTrainAndClassify(t *testing.T) {
	env := newEnv(t, nil)

	status, body := env.do(t, jsonRequest("POST", "/api/v1/ml/train", `{}`))
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, false, body["trained"])
	assert.Equal(t, float64(0), body["samples"])

	status, _ = env.do(t, jsonRequest("POST", "/api/v1/ml/train", `{"test_size": 1.5}`))
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, body = env.do(t, jsonRequest("POST", "/api/v1/ml/classify", `{"method":"VIK","defect_found":true,"param1":25}`))
	require.Equal(t, fiber.StatusOK, status)
	prediction := body["prediction"].(map[string]any)
	assert.Equal(t, "high", prediction["label"])
	assert.Equal(t, "rule_based", prediction["strategy"])
	assert.Equal(t, false, body["cached"])

	_, body = env.do(t, jsonRequest("POST", "/api/v1/ml/classify", `{"method":"VIK","defect_found":true,"param1":25}`))
	assert.Equal(t, true, body["cached"])

	status, _ = env.do(t, jsonRequest("POST", "/api/v1/ml/classify", `{"method":"XRAY"}`))
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, body = env.do(t, importRequest(t, nil, map[string]string{"events": labeledEvents(100)}))
	require.Equal(t, fiber.StatusOK, status, body)

	status, body = env.do(t, jsonRequest("POST", "/api/v1/ml/train", `{}`))
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Equal(t, true, body["trained"])
	assert.Equal(t, float64(80), body["train_size"])
	assert.Equal(t, float64(20), body["test_size"])
	assert.Equal(t, "v1", body["version"])

	status, body = env.do(t, httptest.NewRequest("GET", "/api/v1/ml/status", nil))
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "trained", body["strategy"])
	assert.Equal(t, "v1", body["version"])
	assert.NotNil(t, body["metrics"])

	_, body = env.do(t, jsonRequest("POST", "/api/v1/ml/classify", `{"method":"VIK","defect_found":false}`))
	prediction = body["prediction"].(map[string]any)
	assert.Equal(t, "normal", prediction["label"])
	assert.Equal(t, "trained", prediction["strategy"])
	assert.Equal(t, []any{1.0, 0.0, 0.0}, prediction["probabilities"])
}

type stubTrainer struct {
	err      error
	accepted bool
}

func (s stubTrainer) Train(context.Context, training.Options) (*training.Result, error) {
	return nil, s.err
}

func (s stubTrainer) TriggerAsync(string) bool { return s.accepted }

func TestTrainErrors(t *testing.T) {
	tests := []struct {
		name   string
		stub   stubTrainer
		body   string
		status int
		stage  any
	}{
		{"concurrent", stubTrainer{err: apperrors.ErrConcurrentTraining}, `{}`, fiber.StatusConflict, nil},
		{"fit failure", stubTrainer{err: &apperrors.FitError{Step: "fit", Err: assert.AnError}}, `{}`, fiber.StatusInternalServerError, "fit"},
		{"async accepted", stubTrainer{accepted: true}, `{"async": true}`, fiber.StatusAccepted, nil},
		{"async busy", stubTrainer{}, `{"async": true}`, fiber.StatusConflict, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newEnv(t, func(*training.Pipeline) Dependencies {
				return Dependencies{Trainer: tt.stub, Background: tt.stub}
			})

			status, body := env.do(t, jsonRequest("POST", "/api/v1/ml/train", tt.body))
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.stage, body["stage"])
		})
	}
}
