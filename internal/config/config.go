package config

import (
	"runtime"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	LogLevel         string `env:"LOG_LEVEL" env-default:"warn"`
	PostgresString   string `env:"POSTGRES_DBSTRING" env-required:"true"`
	MinIOHost        string `env:"MINIO_HOST" env-default:"127.0.0.1:9000"`
	MinIOLogin       string `env:"MINIO_LOGIN"`
	MinIOPassword    string `env:"MINIO_PASSWORD"`
	MinIOBucket      string `env:"MINIO_BUCKET" env-default:"tasks"`
	MinIOSecure      bool   `env:"MINIO_SECURE" env-default:"false"`
	RabbitMQHost     string `env:"RABBIT_HOST" env-default:"127.0.0.1"`
	RabbitMQPort     int    `env:"RABBIT_PORT" env-default:"5672"`
	RabbitMQUser     string `env:"RABBIT_USER" env-required:"true"`
	RabbitMQPassword string `env:"RABBIT_PASSWORD" env-required:"true"`
	WorkersCount     int    `env:"WORKERS_COUNT" env-default:"0"`

	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" env-default:"0"`
	LockTTL       time.Duration `env:"LOCK_TTL" env-default:"10m"`

	SandboxBackend  string        `env:"SANDBOX_BACKEND" env-default:"docker"`
	SandboxPoolSize int           `env:"SANDBOX_POOL_SIZE" env-default:"0"`
	SandboxCPUs     float64       `env:"SANDBOX_CPUS" env-default:"0.5"`
	PullImages      bool          `env:"PULL_IMAGES" env-default:"true"`
	IsolateBinary   string        `env:"ISOLATE_BINARY" env-default:"isolate"`
	WorkRoot        string        `env:"WORK_ROOT"`
	LanguagesPath   string        `env:"LANGUAGES_PATH" env-default:"languages"`
	LanguagesSource string        `env:"LANGUAGES_SOURCE" env-default:"dir"`
	CompileTimeout  time.Duration `env:"COMPILE_TIMEOUT" env-default:"30s"`
	CompileMemoryMB int64         `env:"COMPILE_MEMORY_MB" env-default:"1024"`
	CompareEpsilon  float64       `env:"COMPARE_EPSILON" env-default:"0"`
	AllowStderr     bool          `env:"ALLOW_STDERR" env-default:"false"`
	MaxTestDataSize int64         `env:"MAX_TEST_DATA_SIZE" env-default:"67108864"`
	TestDataCache   int64         `env:"TEST_DATA_CACHE_SIZE" env-default:"536870912"`
	DefaultMemoryMB int64         `env:"DEFAULT_MEMORY_MB" env-default:"256"`

	MaxRetries     int           `env:"MAX_RETRIES" env-default:"5"`
	RetryBaseDelay time.Duration `env:"RETRY_BASE_DELAY" env-default:"2s"`
	RetryMaxDelay  time.Duration `env:"RETRY_MAX_DELAY" env-default:"1m"`

	MetricsAddr string `env:"METRICS_ADDR" env-default:":9100"`
}

func NewConfig() (*Config, error) {
	cfg := &Config{}

	err := cleanenv.ReadConfig(".env", cfg)
	if err != nil {
		// no .env file, environment only
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.WorkersCount <= 0 {
		cfg.WorkersCount = runtime.NumCPU()
	}
	if cfg.SandboxPoolSize <= 0 {
		cfg.SandboxPoolSize = runtime.NumCPU()
	}

	return cfg, nil
}
