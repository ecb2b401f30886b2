package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config — корневая структура конфигурации всей платформы.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig описывает настройки HTTP-сервера.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	MetricsPort  int           `mapstructure:"metrics_port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig описывает подключение к PostgreSQL.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int    `mapstructure:"max_conns"`
	MinConns int    `mapstructure:"min_conns"`
}

// RedisConfig описывает подключение к Redis (Streams, дедуп, Pub/Sub).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig содержит пути к RSA ключам и настройки JWT для Console API.
type AuthConfig struct {
	PublicKeyPath  string        `mapstructure:"public_key_path"`
	PrivateKeyPath string        `mapstructure:"private_key_path"` // Только для Console
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	BcryptCost     int           `mapstructure:"bcrypt_cost"`

	// Учетка оператора: хэш пароля (bcrypt), не сам пароль
	OperatorUsername     string `mapstructure:"operator_username"`
	OperatorPasswordHash string `mapstructure:"operator_password_hash"`

	PublicKey  []byte
	PrivateKey []byte
}

// PipelineConfig — настройки оркестратора и стадий.
type PipelineConfig struct {
	StageTimeout  time.Duration `mapstructure:"stage_timeout"`  // Бюджет одного вызова стадии
	RetryAttempts uint          `mapstructure:"retry_attempts"` // Попыток на стадию (включая первую)
	BackoffBase   time.Duration `mapstructure:"backoff_base"`   // База экспоненциального бэкоффа

	// Защита внешних вызовов (Circuit Breaker + Rate Limiter)
	CBMaxRequests  uint32        `mapstructure:"cb_max_requests"`
	CBInterval     time.Duration `mapstructure:"cb_interval"`
	CBTimeout      time.Duration `mapstructure:"cb_timeout"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`

	// Артефакты
	ArtifactRoot   string `mapstructure:"artifact_root"`   // Корень файлового хранилища
	RawBucket      string `mapstructure:"raw_bucket"`      // Логический бакет исходников
	EvidenceBucket string `mapstructure:"evidence_bucket"` // Логический бакет редактированных копий

	// Внешний детектор (HTTP). Пусто — используется мок.
	InferenceEndpoint   string  `mapstructure:"inference_endpoint"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
}

// LedgerConfig — настройки билдера цепочки и хранилища сегментов.
type LedgerConfig struct {
	GenesisHash       string        `mapstructure:"genesis_hash"` // Пусто — нулевой хэш
	SegmentMaxRecords int           `mapstructure:"segment_max_records"`
	SegmentMaxAge     time.Duration `mapstructure:"segment_max_age"`
	RetentionPeriod   time.Duration `mapstructure:"retention_period"`
	DedupTTL          time.Duration `mapstructure:"dedup_ttl"`
	DedupCacheSize    int           `mapstructure:"dedup_cache_size"`

	// Хранилище сегментов: локальная директория или S3 (Object Lock / WORM)
	SegmentDir string `mapstructure:"segment_dir"`
	S3Bucket   string `mapstructure:"s3_bucket"`
	S3Prefix   string `mapstructure:"s3_prefix"`
	S3Region   string `mapstructure:"s3_region"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	v.SetConfigName("config")    // имя файла без расширения
	v.SetConfigType("yaml")      // формат
	v.AddConfigPath(".")         // ищем в корне
	v.AddConfigPath("./configs") // и в папке с конфигами

	// 2. Переменные окружения перекрывают файл: PIPELINE_STAGE_TIMEOUT и т.д.
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 3. Дефолты
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Файла нет — работаем на ENV и дефолтах
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// 6. Ключи: либо PEM прямо в ENV (Docker/K8s), либо файл по пути
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")
	cfg.Auth.PrivateKey = loadKeyResource(cfg.Auth.PrivateKeyPath, "AUTH_PRIVATE_KEY_DATA")

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")

	v.SetDefault("auth.token_ttl", 15*time.Minute)
	v.SetDefault("auth.bcrypt_cost", 10)

	v.SetDefault("pipeline.stage_timeout", 30*time.Second)
	v.SetDefault("pipeline.retry_attempts", 3)
	v.SetDefault("pipeline.backoff_base", 200*time.Millisecond)
	v.SetDefault("pipeline.cb_max_requests", 3)
	v.SetDefault("pipeline.cb_interval", 5*time.Second)
	v.SetDefault("pipeline.cb_timeout", 30*time.Second)
	v.SetDefault("pipeline.rate_limit_rps", 100)
	v.SetDefault("pipeline.rate_limit_burst", 20)
	v.SetDefault("pipeline.artifact_root", "./data/artifacts")
	v.SetDefault("pipeline.raw_bucket", "raw")
	v.SetDefault("pipeline.evidence_bucket", "evidence")
	v.SetDefault("pipeline.confidence_threshold", 0.5)

	v.SetDefault("ledger.segment_max_records", 100)
	v.SetDefault("ledger.segment_max_age", 30*time.Second)
	v.SetDefault("ledger.retention_period", 365*24*time.Hour)
	v.SetDefault("ledger.dedup_ttl", 24*time.Hour)
	v.SetDefault("ledger.dedup_cache_size", 10000)
	v.SetDefault("ledger.segment_dir", "./data/ledger")
}

// loadKeyResource — универсальный хелпер: ENV перекрывает путь к файлу
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
