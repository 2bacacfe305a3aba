// Package config provides configuration loading for the control plane.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application. It is loaded once at
// startup and treated as immutable for the lifetime of the process.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Nats        NatsConfig        `mapstructure:"nats"`
	Registry    RegistryConfig    `mapstructure:"registry"`
	ObjectStore ObjectStoreConfig `mapstructure:"objectstore"`
	Secrets     SecretsConfig     `mapstructure:"secrets"`
	SecretStore SecretStoreConfig `mapstructure:"secretstore"`
	Components  ComponentsConfig  `mapstructure:"components"`
	Deploy      DeployConfig      `mapstructure:"deploy"`
}

// ServerConfig holds HTTP admin server configuration.
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	Host         string        `mapstructure:"host"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	Environment  string        `mapstructure:"environment"` // dev, staging, prod
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// NatsConfig holds the connection and identity material for the control bus.
// The control plane keeps two authenticated handles to the same cluster: the
// system-account user drives the trust resolver, the platform user drives
// tenant-scoped deploys.
type NatsConfig struct {
	URLs string `mapstructure:"urls"`

	// OperatorSeed signs every account JWT pushed to the resolver.
	OperatorSeed string `mapstructure:"operator_seed"`

	// CentralAccountPub is the public key of the platform's central account.
	CentralAccountPub string `mapstructure:"central_account_pub"`

	// CentralServiceSubject is the well-known service subject every tenant
	// account imports from the central account.
	CentralServiceSubject string `mapstructure:"central_service_subject"`

	SystemUserJWT    string `mapstructure:"system_user_jwt"`
	SystemUserSeed   string `mapstructure:"system_user_seed"`
	PlatformUserJWT  string `mapstructure:"platform_user_jwt"`
	PlatformUserSeed string `mapstructure:"platform_user_seed"`

	// ClusterURIs is handed to the tenant bus capability in the providers
	// manifest; it may differ from URLs when hosts reach the cluster over a
	// different network.
	ClusterURIs string `mapstructure:"cluster_uris"`

	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// RegistryConfig holds the platform OCI registry configuration.
type RegistryConfig struct {
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Insecure bool   `mapstructure:"insecure"`
}

// ObjectStoreConfig holds the tenant object store (S3-compatible) settings.
type ObjectStoreConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

// SecretsConfig holds the secrets backend service settings. The three subject
// tokens form the wire contract with component hosts.
type SecretsConfig struct {
	Prefix     string `mapstructure:"prefix"`
	APIVersion string `mapstructure:"api_version"`
	Name       string `mapstructure:"name"`

	// XkeySeed is the long-lived curve25519 seed for the envelope protocol.
	XkeySeed string `mapstructure:"xkey_seed"`

	EnforceExpiry bool          `mapstructure:"enforce_expiry"`
	ClockSkew     time.Duration `mapstructure:"clock_skew"`
}

// SecretStoreConfig holds the upstream secret store (KV v2 API) settings.
type SecretStoreConfig struct {
	Address     string `mapstructure:"address"`
	Token       string `mapstructure:"token"`
	Mount       string `mapstructure:"mount"`
	Project     string `mapstructure:"project"`
	Environment string `mapstructure:"environment"`

	// PlatformPrefix namespaces the control plane's own persisted state,
	// e.g. tenant credential tuples under {prefix}/workspaces/{slug}.
	PlatformPrefix string `mapstructure:"platform_prefix"`
}

// ComponentsConfig holds the image references for platform-supplied
// components and capability providers synthesized into manifests.
type ComponentsConfig struct {
	InHTTPWebhookImage  string `mapstructure:"in_http_webhook_image"`
	OutLogImage         string `mapstructure:"out_log_image"`
	OutHTTPWebhookImage string `mapstructure:"out_http_webhook_image"`
	InInternalImage     string `mapstructure:"in_internal_image"`
	OutInternalImage    string `mapstructure:"out_internal_image"`

	IngressHTTPImage string `mapstructure:"ingress_http_image"`
	EgressHTTPImage  string `mapstructure:"egress_http_image"`
	BusImage         string `mapstructure:"bus_image"`

	// IngressAddress is the listen address handed to the ingress HTTP
	// provider on each host.
	IngressAddress string `mapstructure:"ingress_address"`
}

// DeployConfig holds retry behavior for manifest submission.
type DeployConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
}

// Load reads configuration from files and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/pipestack")

	v.SetEnvPrefix("PIPESTACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Explicitly bind secret-bearing environment variables (nested struct
	// issue with viper)
	v.BindEnv("nats.operator_seed", "PIPESTACK_NATS_OPERATOR_SEED")
	v.BindEnv("nats.system_user_jwt", "PIPESTACK_NATS_SYSTEM_USER_JWT")
	v.BindEnv("nats.system_user_seed", "PIPESTACK_NATS_SYSTEM_USER_SEED")
	v.BindEnv("nats.platform_user_jwt", "PIPESTACK_NATS_PLATFORM_USER_JWT")
	v.BindEnv("nats.platform_user_seed", "PIPESTACK_NATS_PLATFORM_USER_SEED")
	v.BindEnv("secrets.xkey_seed", "PIPESTACK_SECRETS_XKEY_SEED")
	v.BindEnv("secretstore.address", "PIPESTACK_SECRETSTORE_ADDRESS")
	v.BindEnv("secretstore.token", "PIPESTACK_SECRETSTORE_TOKEN")
	v.BindEnv("objectstore.access_key", "PIPESTACK_OBJECTSTORE_ACCESS_KEY")
	v.BindEnv("objectstore.secret_key", "PIPESTACK_OBJECTSTORE_SECRET_KEY")
	v.BindEnv("registry.username", "PIPESTACK_REGISTRY_USERNAME")
	v.BindEnv("registry.password", "PIPESTACK_REGISTRY_PASSWORD")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all settings.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.environment", "dev")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "pipestack")
	v.SetDefault("database.password", "pipestack")
	v.SetDefault("database.database", "pipestack")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// NATS defaults
	v.SetDefault("nats.urls", "nats://localhost:4222")
	v.SetDefault("nats.cluster_uris", "nats://localhost:4222")
	v.SetDefault("nats.central_service_subject", "wasmcloud.secrets.>")
	v.SetDefault("nats.request_timeout", "30s")

	// Registry defaults
	v.SetDefault("registry.url", "registry.localhost:5000")
	v.SetDefault("registry.insecure", false)

	// Object store defaults
	v.SetDefault("objectstore.endpoint", "http://localhost:9000")
	v.SetDefault("objectstore.region", "us-east-1")
	v.SetDefault("objectstore.bucket", "pipestack")

	// Secrets backend defaults; the subject tokens are the wire contract
	// with component hosts.
	v.SetDefault("secrets.prefix", "wasmcloud.secrets")
	v.SetDefault("secrets.api_version", "v1alpha1")
	v.SetDefault("secrets.name", "pipestack")
	v.SetDefault("secrets.enforce_expiry", true)
	v.SetDefault("secrets.clock_skew", "300s")

	// Upstream secret store defaults
	v.SetDefault("secretstore.address", "http://localhost:8200")
	v.SetDefault("secretstore.mount", "secret")
	v.SetDefault("secretstore.project", "pipestack")
	v.SetDefault("secretstore.environment", "dev")
	v.SetDefault("secretstore.platform_prefix", "pipestack")

	// Component image defaults
	v.SetDefault("components.in_http_webhook_image", "ghcr.io/pipestack/in-http-webhook:0.3.0")
	v.SetDefault("components.out_log_image", "ghcr.io/pipestack/out-log:0.3.0")
	v.SetDefault("components.out_http_webhook_image", "ghcr.io/pipestack/out-http-webhook:0.3.0")
	v.SetDefault("components.in_internal_image", "ghcr.io/pipestack/in-internal:0.3.0")
	v.SetDefault("components.out_internal_image", "ghcr.io/pipestack/out-internal:0.3.0")
	v.SetDefault("components.ingress_http_image", "ghcr.io/wasmcloud/http-server:0.23.2")
	v.SetDefault("components.egress_http_image", "ghcr.io/wasmcloud/http-client:0.12.1")
	v.SetDefault("components.bus_image", "ghcr.io/wasmcloud/messaging-nats:0.24.0")
	v.SetDefault("components.ingress_address", "0.0.0.0:8000")

	// Deploy retry defaults
	v.SetDefault("deploy.max_attempts", 3)
	v.SetDefault("deploy.retry_delay", "500ms")
}
