// Package config loads runtime settings from conduit.yaml and CONDUIT_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Alwanly/conduit/pkg/validator"
)

const EnvPrefix = "CONDUIT"

type Config struct {
	Management ManagementConfig
	Routes     RoutesConfig
	HTTP       HTTPConfig
	Redis      RedisConfig
	NATS       NATSConfig
	SQL        SQLConfig
	AWS        AWSConfig
	MinIO      MinIOConfig
	Tracing    TracingConfig
	Shutdown   ShutdownConfig
}

type ManagementConfig struct {
	Addr string `validate:"required"`
	// Username/Password grant read access, the admin pair grants every call.
	// Authentication is off when neither is set.
	Username      string
	Password      string `validate:"required_with=Username"`
	AdminUsername string
	AdminPassword string `validate:"required_with=AdminUsername"`
	// Token, when set, replaces basic auth on mutating calls.
	Token string
}

type RoutesConfig struct {
	File string `validate:"required"`
}

// HTTPConfig configures the shared platform-http server.
type HTTPConfig struct {
	Addr      string `validate:"required"`
	BodyLimit int    `validate:"gte=0"`
}

type RedisConfig struct {
	Host     string
	Port     int `validate:"gte=0,lte=65535"`
	Password string
	DB       int `validate:"gte=0"`
}

type NATSConfig struct {
	URL string
}

type SQLConfig struct {
	Dialect         string `validate:"omitempty,oneof=sqlite postgres"`
	DSN             string
	MaxOpenConns    int `validate:"gte=0"`
	MaxIdleConns    int `validate:"gte=0"`
	ConnMaxLifetime time.Duration
	LogLevel        string `validate:"omitempty,oneof=silent error warn info"`
}

type AWSConfig struct {
	Region           string
	AccessKey        string
	SecretKey        string `validate:"required_with=AccessKey"`
	EndpointOverride string
	UsePathStyle     bool
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string `validate:"required_with=AccessKey"`
	Region    string
	Secure    bool
}

type TracingConfig struct {
	ServiceName string
}

type ShutdownConfig struct {
	Timeout time.Duration `validate:"gt=0"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("management.addr", ":8090")
	v.SetDefault("routes.file", "routes.yaml")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.body_limit", 4*1024*1024)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("sql.dialect", "sqlite")
	v.SetDefault("sql.max_open_conns", 10)
	v.SetDefault("sql.max_idle_conns", 2)
	v.SetDefault("sql.conn_max_lifetime", time.Hour)
	v.SetDefault("sql.log_level", "warn")
	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("minio.endpoint", "localhost:9000")
	v.SetDefault("tracing.service_name", "conduit")
	v.SetDefault("shutdown.timeout", 10*time.Second)
}

// Load reads the config file at path, or searches conduit.yaml in the
// working directory, ./config and /etc/conduit when path is empty. A missing
// file is not an error; defaults and environment variables still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("conduit")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/conduit")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		Management: ManagementConfig{
			Addr:          v.GetString("management.addr"),
			Username:      v.GetString("management.username"),
			Password:      v.GetString("management.password"),
			AdminUsername: v.GetString("management.admin_username"),
			AdminPassword: v.GetString("management.admin_password"),
			Token:         v.GetString("management.token"),
		},
		Routes: RoutesConfig{
			File: v.GetString("routes.file"),
		},
		HTTP: HTTPConfig{
			Addr:      v.GetString("http.addr"),
			BodyLimit: v.GetInt("http.body_limit"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		NATS: NATSConfig{
			URL: v.GetString("nats.url"),
		},
		SQL: SQLConfig{
			Dialect:         v.GetString("sql.dialect"),
			DSN:             v.GetString("sql.dsn"),
			MaxOpenConns:    v.GetInt("sql.max_open_conns"),
			MaxIdleConns:    v.GetInt("sql.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("sql.conn_max_lifetime"),
			LogLevel:        v.GetString("sql.log_level"),
		},
		AWS: AWSConfig{
			Region:           v.GetString("aws.region"),
			AccessKey:        v.GetString("aws.access_key"),
			SecretKey:        v.GetString("aws.secret_key"),
			EndpointOverride: v.GetString("aws.endpoint_override"),
			UsePathStyle:     v.GetBool("aws.use_path_style"),
		},
		MinIO: MinIOConfig{
			Endpoint:  v.GetString("minio.endpoint"),
			AccessKey: v.GetString("minio.access_key"),
			SecretKey: v.GetString("minio.secret_key"),
			Region:    v.GetString("minio.region"),
			Secure:    v.GetBool("minio.secure"),
		},
		Tracing: TracingConfig{
			ServiceName: v.GetString("tracing.service_name"),
		},
		Shutdown: ShutdownConfig{
			Timeout: v.GetDuration("shutdown.timeout"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := validator.ValidateStruct(c); err != nil {
		return fmt.Errorf("invalid configuration: %v", validator.TranslateError(err))
	}
	return nil
}
