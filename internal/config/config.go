package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	Env       string          `mapstructure:"env"` // 环境: development, production
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	OpenFGA   OpenFGAConfig   `mapstructure:"openfga"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	CORS      CORSConfig      `mapstructure:"cors"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Log       LogConfig       `mapstructure:"log"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Approval  ApprovalConfig  `mapstructure:"approval"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
	Flows     []FlowConfig    `mapstructure:"flows"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	ForceHTTPS bool   `mapstructure:"force_https"` // 反向代理后强制 HTTPS
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"` // postgres, sqlite
	Path            string `mapstructure:"path"`   // sqlite 文件路径
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`  // 秒
	ConnMaxIdleTime int    `mapstructure:"conn_max_idle_time"` // 秒
}

// AuthConfig 身份配置
type AuthConfig struct {
	Mode      string `mapstructure:"mode"` // keycloak, header
	Issuer    string `mapstructure:"issuer"`
	AdminRole string `mapstructure:"admin_role"`
}

// OpenFGAConfig OpenFGA 配置,APIURL 为空时不启用
type OpenFGAConfig struct {
	APIURL  string   `mapstructure:"api_url"`
	StoreID string   `mapstructure:"store_id"`
	ModelID string   `mapstructure:"model_id"`
	Roles   []string `mapstructure:"roles"` // 由 OpenFGA 判定成员关系的角色
}

// RedisConfig Redis 配置,Addr 为空时不启用
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// TracingConfig 链路追踪配置
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint"` // OTLP/HTTP 地址, 如 localhost:4318
	Insecure    bool   `mapstructure:"insecure"`
	ServiceName string `mapstructure:"service_name"`
}

// CORSConfig CORS 配置
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
	MaxAge         int      `mapstructure:"max_age"`
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`  // 日志级别: debug, info, warn, error
	Format string `mapstructure:"format"` // 日志格式: json, text
	Output string `mapstructure:"output"` // 输出位置: stdout, file, both
}

// LedgerConfig 签名账本配置
type LedgerConfig struct {
	Secret string `mapstructure:"secret"` // 签名哈希密钥
}

// ApprovalConfig 审批配置
type ApprovalConfig struct {
	RevocationPolicy  string             `mapstructure:"revocation_policy"` // retain, rollback
	StageTableVersion string             `mapstructure:"stage_table_version"`
	Thresholds        map[string]int     `mapstructure:"thresholds"`
	AdvanceOnComplete map[string]int     `mapstructure:"advance_on_complete"`
	EntryStages       map[string]string  `mapstructure:"entry_stages"` // 流程类型 -> 入口阶段
	Policies          []RolePolicyConfig `mapstructure:"policies"`
}

// RolePolicyConfig 基于 Rego 策略判定的角色
type RolePolicyConfig struct {
	Role   string `mapstructure:"role"`
	Module string `mapstructure:"module"` // rego 文件路径
	Query  string `mapstructure:"query"`
}

// ArtifactsConfig 产物存储配置
type ArtifactsConfig struct {
	Dir        string `mapstructure:"dir"`
	WorkerRole string `mapstructure:"worker_role"` // 可领取和回写生成任务的角色
}

// FlowConfig 单据类型 + 流程类型对应的签署配置
type FlowConfig struct {
	DocumentType  string             `mapstructure:"document_type"`
	Kind          string             `mapstructure:"kind"`
	Required      []OfficerConfig    `mapstructure:"required"`
	Optional      []OfficerConfig    `mapstructure:"optional"`
	MinSignatures int                `mapstructure:"min_signatures"`
	AllowEmpty    bool               `mapstructure:"allow_empty"`
	OnComplete    []JobTriggerConfig `mapstructure:"on_complete"`
}

// OfficerConfig 签署人配置
type OfficerConfig struct {
	Kind      string `mapstructure:"kind"` // person, role
	Reference string `mapstructure:"reference"`
}

// JobTriggerConfig 流程完成后自动生成的文档
type JobTriggerConfig struct {
	TemplateCode string `mapstructure:"template_code"`
	TemplateName string `mapstructure:"template_name"`
}

// Load 加载配置,支持配置文件和环境变量
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// 设置默认值
	setDefaults(v)

	// 如果提供了配置文件路径,从文件加载
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		// 尝试从默认位置加载
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("$HOME/.signflow")
		// 忽略配置文件不存在的错误,使用默认值
		_ = v.ReadInConfig()
	}

	// 支持环境变量
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return decode(v)
}

// ConfigFileUsed 返回实际加载的配置文件路径
func ConfigFileUsed(configPath string) string {
	if configPath != "" {
		return configPath
	}
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("$HOME/.signflow")
	if err := v.ReadInConfig(); err != nil {
		return ""
	}
	return v.ConfigFileUsed()
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	switch c.Approval.RevocationPolicy {
	case "retain", "rollback":
	default:
		return fmt.Errorf("invalid approval.revocation_policy %q", c.Approval.RevocationPolicy)
	}
	switch c.Auth.Mode {
	case "keycloak", "header":
	default:
		return fmt.Errorf("invalid auth.mode %q", c.Auth.Mode)
	}
	if IsProduction(c) && c.Ledger.Secret == defaultLedgerSecret {
		return fmt.Errorf("ledger.secret must be set in production")
	}
	return nil
}

// IsProduction 判断是否为生产环境
func IsProduction(cfg *Config) bool {
	if cfg == nil {
		return false
	}
	return cfg.Env == "production"
}

// Default 返回默认配置
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

const defaultLedgerSecret = "development-only-ledger-secret"

// setDefaults 设置配置默认值
func setDefaults(v *viper.Viper) {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}
	v.SetDefault("env", env)

	// 服务器默认配置
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.force_https", false)

	// 数据库默认配置
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.path", "signflow.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "signflow")
	v.SetDefault("database.sslmode", "disable")

	// 数据库连接池配置（根据环境设置默认值）
	if env == "production" {
		v.SetDefault("database.max_idle_conns", 20)
		v.SetDefault("database.max_open_conns", 200)
		v.SetDefault("database.conn_max_lifetime", 3600) // 1 小时
		v.SetDefault("database.conn_max_idle_time", 300) // 5 分钟
	} else {
		v.SetDefault("database.max_idle_conns", 10)
		v.SetDefault("database.max_open_conns", 100)
		v.SetDefault("database.conn_max_lifetime", 3600) // 1 小时
		v.SetDefault("database.conn_max_idle_time", 600) // 10 分钟
	}

	// 身份
	if env == "production" {
		v.SetDefault("auth.mode", "keycloak")
	} else {
		v.SetDefault("auth.mode", "header")
	}
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.admin_role", "administrator")

	v.SetDefault("openfga.api_url", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.channel", "signflow:events")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("tracing.service_name", "signflow")

	// CORS 默认配置
	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Content-Type", "Authorization", "X-Request-ID", "Accept-Language"})
	v.SetDefault("cors.max_age", 86400)

	v.SetDefault("rate_limit.rps", 50)
	v.SetDefault("rate_limit.burst", 100)

	// 日志配置（根据环境设置默认值）
	if env == "production" {
		v.SetDefault("log.level", "warn")
		v.SetDefault("log.format", "json")
	} else {
		v.SetDefault("log.level", "debug")
		v.SetDefault("log.format", "text")
	}
	v.SetDefault("log.output", "stdout")

	v.SetDefault("ledger.secret", defaultLedgerSecret)

	v.SetDefault("approval.revocation_policy", "retain")
	v.SetDefault("approval.stage_table_version", "v1")

	v.SetDefault("artifacts.dir", "./artifacts")
	v.SetDefault("artifacts.worker_role", "generation-worker")
}
