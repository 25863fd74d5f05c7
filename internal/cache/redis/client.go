package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/qrlbk/IntegrityOS/internal/criticality"
	"github.com/qrlbk/IntegrityOS/internal/metrics"
	"github.com/qrlbk/IntegrityOS/internal/storage/models"
	"github.com/qrlbk/IntegrityOS/pkg/circuitbreaker"
	"github.com/qrlbk/IntegrityOS/pkg/logger"
	"github.com/qrlbk/IntegrityOS/pkg/utils"
)

const predictionPrefix = "prediction"

type Client struct {
	client  *redis.Client
	breaker *circuitbreaker.CircuitBreaker
	ttl     time.Duration
}

func NewClient(host string, port int, password string, db int, ttl time.Duration) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return newClient(client, ttl), nil
}

func newClient(client *redis.Client, ttl time.Duration) *Client {
	return &Client{
		client: client,
		ttl:    ttl,
		breaker: circuitbreaker.NewCircuitBreaker("redis", circuitbreaker.Config{
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
			IsFailure: func(err error) bool {
				return err != nil && !errors.Is(err, redis.Nil) && !errors.Is(err, context.Canceled)
			},
			Logger: logger.GetLogger(),
		}),
	}
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// CachedPrediction is what the classify endpoint returns for one event.
type CachedPrediction struct {
	Label         models.Label              `json:"label"`
	Strategy      models.Strategy           `json:"strategy"`
	ModelVersion  string                    `json:"model_version"`
	Probabilities *criticality.Distribution `json:"probabilities,omitempty"`
	FeatureHash   string                    `json:"feature_hash"`
}

// PredictionKey scopes a cached prediction to one model version. The
// description only matters to the rule-based strategy.
func PredictionKey(version, featureHash, description string) string {
	return utils.CacheKey(predictionPrefix, version, featureHash+"|"+description)
}

func (c *Client) SetPrediction(ctx context.Context, key string, prediction *CachedPrediction) error {
	data, err := json.Marshal(prediction)
	if err != nil {
		return fmt.Errorf("failed to marshal prediction: %w", err)
	}

	err = c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.client.Set(ctx, key, data, c.ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("failed to set prediction cache: %w", err)
	}

	logger.Debug("Prediction cached", zap.String("key", key), zap.Duration("ttl", c.ttl))
	return nil
}

func (c *Client) GetPrediction(ctx context.Context, key string) (*CachedPrediction, bool, error) {
	var data []byte
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		data, err = c.client.Get(ctx, key).Bytes()
		return err
	})
	if errors.Is(err, redis.Nil) {
		metrics.CacheMisses.WithLabelValues(predictionPrefix).Inc()
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get prediction cache: %w", err)
	}

	var prediction CachedPrediction
	if err := json.Unmarshal(data, &prediction); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal prediction: %w", err)
	}

	metrics.CacheHits.WithLabelValues(predictionPrefix).Inc()
	logger.Debug("Prediction cache hit", zap.String("key", key))
	return &prediction, true, nil
}

// InvalidatePredictions drops every cached prediction, e.g. after a retrain.
func (c *Client) InvalidatePredictions(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, predictionPrefix+":*", 0).Iterator()
	deleted := 0
	for iter.Next(ctx) {
		err := c.client.Del(ctx, iter.Val()).Err()
		if err != nil {
			logger.Warn("Failed to delete cache key", zap.Error(err))
			continue
		}
		deleted++
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to iterate cache keys: %w", err)
	}

	logger.Info("Prediction cache invalidated", zap.Int("keys", deleted))
	return nil
}

func (c *Client) BreakerState() circuitbreaker.State {
	return c.breaker.State()
}
