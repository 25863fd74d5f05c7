package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig
	Storage     StorageConfig
	Redis       RedisConfig
	Logging     LoggingConfig
	Ingestion   IngestionConfig
	Criticality CriticalityConfig
	Training    TrainingConfig
}

type ServerConfig struct {
	Host              string
	Port              int
	ReadTimeout       int
	WriteTimeout      int
	BodyLimit         int
	RequestsPerSecond int
	Burst             int
}

type StorageConfig struct {
	Driver string
	DSN    string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	TTLSec   int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

type IngestionConfig struct {
	// RoutePolicy is "strict" (unknown routes fail the asset row) or "create".
	RoutePolicy      string
	AutoTrain        bool
	AutoCreatedRoute string
}

type CriticalityConfig struct {
	HighParam1       float64
	HighParam2       float64
	MediumParam1     float64
	MediumParam2     float64
	CriticalKeywords []string
	MediumKeywords   []string
}

type TrainingConfig struct {
	MinSamples          int
	TestSize            float64
	RandomState         int64
	CVFolds             int
	Trees               int
	MaxDepth            int
	MinSamplesSplit     int
	Workers             int
	Schedule            string
	ReclassifyOnRetrain bool
}

func Load() (*Config, error) {
	// .env is optional; real environment variables win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/integrity")

	v.SetEnvPrefix("INTEGRITY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("unsupported storage driver %q", c.Storage.Driver)
	}

	switch c.Ingestion.RoutePolicy {
	case "strict", "create":
	default:
		return fmt.Errorf("unsupported route policy %q", c.Ingestion.RoutePolicy)
	}

	if c.Training.TestSize <= 0 || c.Training.TestSize >= 1 {
		return fmt.Errorf("training.testSize must be in (0, 1), got %v", c.Training.TestSize)
	}
	if c.Training.CVFolds < 2 {
		return fmt.Errorf("training.cvFolds must be at least 2, got %d", c.Training.CVFolds)
	}
	if c.Criticality.MediumParam1 > c.Criticality.HighParam1 || c.Criticality.MediumParam2 > c.Criticality.HighParam2 {
		return fmt.Errorf("medium thresholds must not exceed high thresholds")
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 120)
	v.SetDefault("server.bodyLimit", 52428800)
	v.SetDefault("server.requestsPerSecond", 20)
	v.SetDefault("server.burst", 40)

	v.SetDefault("storage.driver", "sqlite3")
	v.SetDefault("storage.dsn", "./data/integrity.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttlSec", 3600)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")

	v.SetDefault("ingestion.routePolicy", "strict")
	v.SetDefault("ingestion.autoTrain", true)
	v.SetDefault("ingestion.autoCreatedRoute", "AUTO-CREATED")

	v.SetDefault("criticality.highParam1", 20.0)
	v.SetDefault("criticality.highParam2", 50.0)
	v.SetDefault("criticality.mediumParam1", 10.0)
	v.SetDefault("criticality.mediumParam2", 20.0)
	v.SetDefault("criticality.criticalKeywords", DefaultCriticalKeywords)
	v.SetDefault("criticality.mediumKeywords", DefaultMediumKeywords)

	v.SetDefault("training.minSamples", 100)
	v.SetDefault("training.testSize", 0.2)
	v.SetDefault("training.randomState", 42)
	v.SetDefault("training.cvFolds", 5)
	v.SetDefault("training.trees", 100)
	v.SetDefault("training.maxDepth", 10)
	v.SetDefault("training.minSamplesSplit", 2)
	v.SetDefault("training.workers", 4)
	v.SetDefault("training.schedule", "")
	v.SetDefault("training.reclassifyOnRetrain", false)
}

var DefaultCriticalKeywords = []string{
	"критический", "критично", "аварийный", "авария",
	"разрушение", "разрыв", "трещина сквозная", "сквозная",
	"глубокая коррозия", "сильная коррозия", "обширная",
	"critical", "emergency", "rupture", "collapse", "through-wall",
	"through crack", "deep corrosion", "severe corrosion", "extensive",
}

var DefaultMediumKeywords = []string{
	"коррозия", "повреждение", "дефект", "трещина",
	"износ", "изношен", "поврежден",
	"corrosion", "damage", "defect", "crack", "wear", "worn",
}
