package config

import (
	"github.com/kelseyhightower/envconfig"
)

var singleConfig *Config = nil

type Config struct {
	Database  *dbConfig
	Service   *svcConfig
	Worker    *workerConfig
	Engine    *engineConfig
	Artifacts *artifactsConfig
}

type dbConfig struct {
	Type     string `envconfig:"DB_TYPE" default:"pgsql"`
	Hostname string `envconfig:"DB_HOST" default:"localhost"`
	Port     string `envconfig:"DB_PORT" default:"5432"`
	Name     string `envconfig:"DB_NAME" default:"camforge"`
	User     string `envconfig:"DB_USER" default:"admin"`
	Password string `envconfig:"DB_PASS" default:"adminpass"`
}

type svcConfig struct {
	Address        string `envconfig:"CAMFORGE_ADDRESS" default:":3443"`
	MetricsAddress string `envconfig:"CAMFORGE_METRICS_ADDRESS" default:":8080"`
	BaseUrl        string `envconfig:"CAMFORGE_BASE_URL" default:"https://localhost:3443"`
	LogLevel       string `envconfig:"CAMFORGE_LOG_LEVEL" default:"info"`
	CorsOrigins    string `envconfig:"CAMFORGE_CORS_ORIGINS" default:""`

	// RateLimits holds the admission rule per job type, e.g.
	// "assembly:60/m,cam:120/m,sim:30/m". Types without a rule are not
	// limited.
	RateLimits map[string]string `envconfig:"CAMFORGE_RATE_LIMITS" default:"assembly:60/m,cad:60/m,cam:120/m,design:120/m,sim:30/m,report:60/m"`

	Admission admissionConfig
	Auth      Auth
	Kafka     kafkaConfig
}

type admissionConfig struct {
	// Backend selects the admission state store: "memory" for a single
	// instance, "redis" when several instances must agree.
	Backend      string `envconfig:"CAMFORGE_ADMISSION_BACKEND" default:"memory"`
	RedisAddress string `envconfig:"CAMFORGE_ADMISSION_REDIS_ADDRESS" default:"localhost:6379"`
}

type workerConfig struct {
	// QueueConcurrency caps the number of concurrent workers per named
	// queue. The engine queue stays at 1 because the engine keeps global
	// document state and is not reentrant.
	QueueConcurrency map[string]int `envconfig:"CAMFORGE_QUEUE_CONCURRENCY" default:"freecad:1,cpu:4,sim:2,postproc:4"`

	// Hard limits kill the task attempt, soft limits only raise a warning.
	TaskTimeLimits map[string]int `envconfig:"CAMFORGE_TASK_TIME_LIMITS" default:"freecad:900,cpu:300,sim:1200,postproc:300"`
	TaskSoftLimits map[string]int `envconfig:"CAMFORGE_TASK_SOFT_LIMITS" default:"freecad:870,cpu:270,sim:1140,postproc:270"`

	MaxAttempts        int     `envconfig:"CAMFORGE_TASK_MAX_ATTEMPTS" default:"3"`
	BackoffBaseSeconds float64 `envconfig:"CAMFORGE_TASK_BACKOFF_BASE_SECONDS" default:"2"`
	BackoffCapSeconds  float64 `envconfig:"CAMFORGE_TASK_BACKOFF_CAP_SECONDS" default:"300"`
}

type engineConfig struct {
	BinaryPath string `envconfig:"CAMFORGE_ENGINE_BINARY" default:""`
	WorkDir    string `envconfig:"CAMFORGE_ENGINE_WORKDIR" default:"/tmp/camforge"`
	RunDir     string `envconfig:"CAMFORGE_ENGINE_RUNDIR" default:"/tmp/camforge/run"`
}

type artifactsConfig struct {
	Endpoint        string `envconfig:"CAMFORGE_S3_ENDPOINT" default:"localhost:9000"`
	Bucket          string `envconfig:"CAMFORGE_S3_BUCKET" default:"camforge-artefacts"`
	AccessKey       string `envconfig:"CAMFORGE_S3_ACCESS_KEY" default:""`
	SecretAccessKey string `envconfig:"CAMFORGE_S3_SECRET_KEY" default:""`
	UseSSL          bool   `envconfig:"CAMFORGE_S3_USE_SSL" default:"false"`
	MaxFetchMB      int64  `envconfig:"CAMFORGE_S3_MAX_FETCH_MB" default:"200"`
}

type kafkaConfig struct {
	Brokers  []string `envconfig:"CAMFORGE_KAFKA_BROKERS" default:""`
	Topic    string   `envconfig:"CAMFORGE_KAFKA_TOPIC" default:""`
	ClientID string   `envconfig:"CAMFORGE_KAFKA_CLIENT_ID" default:"camforge"`
}

type Auth struct {
	AuthenticationType string `envconfig:"CAMFORGE_AUTH" default:""`
	AdminToken         string `envconfig:"CAMFORGE_ADMIN_TOKEN" default:""`
}

func New() (*Config, error) {
	if singleConfig == nil {
		singleConfig = new(Config)
		if err := envconfig.Process("", singleConfig); err != nil {
			return nil, err
		}
	}
	return singleConfig, nil
}

// NewDefault returns a configuration backed by an in-memory sqlite database.
// Used mostly in tests.
func NewDefault() *Config {
	cfg := new(Config)
	if err := envconfig.Process("", cfg); err != nil {
		panic(err)
	}
	cfg.Database.Type = "sqlite"
	// shared cache so every pooled connection sees the same database
	cfg.Database.Name = "file::memory:?cache=shared"
	return cfg
}
