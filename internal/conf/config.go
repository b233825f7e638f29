package conf

import (
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Health        HealthConfig        `mapstructure:"health"`
	Allocator     AllocatorConfig     `mapstructure:"allocator"`
	Cost          CostConfig          `mapstructure:"cost"`
	Alert         AlertConfig         `mapstructure:"alert"`
	Allocation    AllocationConfig    `mapstructure:"allocation"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	HTTPPort        int           `mapstructure:"http_port"`
	MetricsPort     int           `mapstructure:"metrics_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	DBName          string        `mapstructure:"dbname"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// HealthConfig 健康检查配置
type HealthConfig struct {
	CheckInterval    time.Duration `mapstructure:"check_interval"`    // 默认60s
	CollectInterval  time.Duration `mapstructure:"collect_interval"`  // 默认5m
	ProbeTimeout     time.Duration `mapstructure:"probe_timeout"`     // 默认10s
	RecheckDelay     time.Duration `mapstructure:"recheck_delay"`     // 默认30s
	ScoreCacheTTL    time.Duration `mapstructure:"score_cache_ttl"`   // 默认60s
	FallbackAccounts []string      `mapstructure:"fallback_accounts"` // 配置查询失败时的静态兜底清单
}

// AllocatorConfig 分配器配置
type AllocatorConfig struct {
	BindingCacheTTL  time.Duration `mapstructure:"binding_cache_ttl"` // 默认5m
	LoadWindow       time.Duration `mapstructure:"load_window"`       // 默认5m
	AssumedCapacity  int64         `mapstructure:"assumed_capacity"`  // 默认500 req/窗口
	MinHealthScore   float64       `mapstructure:"min_health_score"`  // 默认50
}

// ModelRate 模型费率（每1k tokens）
type ModelRate struct {
	InputPerK  float64 `mapstructure:"input_per_k"`
	OutputPerK float64 `mapstructure:"output_per_k"`
}

// CostConfig 成本配置
type CostConfig struct {
	Currency    string               `mapstructure:"currency"`
	DefaultRate ModelRate            `mapstructure:"default_rate"`
	Rates       map[string]ModelRate `mapstructure:"rates"`
}

// AlertConfig 告警配置
type AlertConfig struct {
	CheckInterval time.Duration `mapstructure:"check_interval"` // 默认60s
	AlertTTL      time.Duration `mapstructure:"alert_ttl"`      // 默认24h
}

// AllocationConfig 成本分摊配置
type AllocationConfig struct {
	RunInterval  time.Duration `mapstructure:"run_interval"`  // 默认1h
	DefaultBasis string        `mapstructure:"default_basis"` // 默认equal
}

// ObservabilityConfig 可观测性配置
type ObservabilityConfig struct {
	OTELEndpoint   string `mapstructure:"otel_endpoint"`
	ServiceName    string `mapstructure:"service_name"`
	ServiceVersion string `mapstructure:"service_version"`
	Environment    string `mapstructure:"environment"`
	EnableTrace    bool   `mapstructure:"enable_trace"`
	LogLevel       string `mapstructure:"log_level"`
	LogFormat      string `mapstructure:"log_format"`
}

// Load 加载配置
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("pool-engine")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath("../configs")
	}

	setDefaults(v)

	// 自动从环境变量读取
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// 配置文件缺失时使用默认值启动
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// 从环境变量覆盖敏感配置
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		config.Database.Password = password
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		config.Redis.Password = password
	}
	if endpoint := os.Getenv("OTEL_ENDPOINT"); endpoint != "" {
		config.Observability.OTELEndpoint = endpoint
	}

	return &config, nil
}

// setDefaults 设置默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_port", 9010)
	v.SetDefault("server.metrics_port", 9011)
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.dbname", "aipool")
	v.SetDefault("database.user", "aipool")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", "1h")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 50)
	v.SetDefault("redis.min_idle_conns", 5)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.topic", "aipool.alerts")

	v.SetDefault("health.check_interval", "60s")
	v.SetDefault("health.collect_interval", "5m")
	v.SetDefault("health.probe_timeout", "10s")
	v.SetDefault("health.recheck_delay", "30s")
	v.SetDefault("health.score_cache_ttl", "60s")

	v.SetDefault("allocator.binding_cache_ttl", "5m")
	v.SetDefault("allocator.load_window", "5m")
	v.SetDefault("allocator.assumed_capacity", 500)
	v.SetDefault("allocator.min_health_score", 50)

	v.SetDefault("cost.currency", "USD")
	v.SetDefault("cost.default_rate.input_per_k", 0.002)
	v.SetDefault("cost.default_rate.output_per_k", 0.006)

	v.SetDefault("alert.check_interval", "60s")
	v.SetDefault("alert.alert_ttl", "24h")

	v.SetDefault("allocation.run_interval", "1h")
	v.SetDefault("allocation.default_basis", "equal")

	v.SetDefault("observability.service_name", "pool-engine")
	v.SetDefault("observability.service_version", "1.0.0")
	v.SetDefault("observability.environment", "development")
	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.log_format", "json")
}
