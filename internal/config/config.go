// Package config handles loading and validation of client configuration.
// Supports both development (env vars) and production (Secret Manager) modes.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
)

// Config holds all client configuration.
// Environment determines whether backend secrets load from env vars (development) or Secret Manager (production).
type Config struct {
	// Process settings
	Port        string `json:"port"`                  // serve command only
	ServeToken  string `json:"serve_token,omitempty"` // bearer token required by serve; empty disables
	Environment string `json:"environment"`
	LogLevel    string `json:"log_level"`

	// GCP settings (required in production)
	GCPProject string `json:"gcp_project,omitempty"`
	SecretName string `json:"secret_name,omitempty"`

	Backend  BackendConfig  `json:"backend"`
	Storage  StorageConfig  `json:"storage"`
	Checkout CheckoutConfig `json:"checkout"`
}

// BackendConfig describes how to reach the storefront API.
type BackendConfig struct {
	APIBaseURL     string `json:"api_base_url"`
	ChromeTLS      bool   `json:"chrome_tls,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
	Tracing        bool   `json:"tracing,omitempty"`
}

// Timeout returns the per-request timeout.
func (b BackendConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSeconds) * time.Second
}

// StorageConfig selects where client state is persisted.
type StorageConfig struct {
	Driver    string `json:"driver"` // memory, file or redis
	Path      string `json:"path,omitempty"`
	RedisAddr string `json:"redis_addr,omitempty"`
	RedisDB   int    `json:"redis_db,omitempty"`
	Namespace string `json:"namespace,omitempty"`
}

// CheckoutConfig controls the checkout flow.
type CheckoutConfig struct {
	Strategy     string `json:"payment_strategy"` // mock or redirect
	Currency     string `json:"currency"`
	AllowGuest   bool   `json:"allow_guest,omitempty"`
	SkipPlace    bool   `json:"skip_place,omitempty"`
	RedirectPath string `json:"redirect_path,omitempty"`
	Organization *int   `json:"organization,omitempty"`
	Location     *int   `json:"location,omitempty"`
}

// secretPayload is the JSON stored in Secret Manager. Only deployment-specific
// connection details live there.
type secretPayload struct {
	Backend    *BackendConfig `json:"backend,omitempty"`
	Storage    *StorageConfig `json:"storage,omitempty"`
	ServeToken string         `json:"serve_token,omitempty"`
}

// Load reads configuration from file, environment, or Secret Manager.
// Priority: CONFIG_FILE (if set) → ENV vars / Secret Manager.
// Validates all required fields and returns an error if any are missing.
func Load(ctx context.Context) (*Config, error) {
	// If CONFIG_FILE is set, load everything from the JSON file
	if configPath := os.Getenv("CONFIG_FILE"); configPath != "" {
		return loadFromFile(configPath)
	}

	cfg := &Config{
		Port:        envOrDefault("PORT", "8080"),
		Environment: envOrDefault("ENVIRONMENT", "development"),
		LogLevel:    envOrDefault("LOG_LEVEL", "info"),
		GCPProject:  os.Getenv("GCP_PROJECT"),
		SecretName:  envOrDefault("SECRET_NAME", "storefront"),
		ServeToken:  os.Getenv("SERVE_TOKEN"),
	}

	if err := cfg.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	if cfg.Environment == "production" {
		if cfg.GCPProject == "" {
			return nil, fmt.Errorf("GCP_PROJECT required in production environment")
		}
		if err := cfg.loadFromSecretManager(ctx); err != nil {
			return nil, fmt.Errorf("loading backend config: %w", err)
		}
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromFile reads all configuration from a JSON file.
// Used for local development to avoid multiple ENV vars.
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Port = withDefault(cfg.Port, "8080")
	cfg.Environment = withDefault(cfg.Environment, "development")
	cfg.LogLevel = withDefault(cfg.LogLevel, "info")

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// withDefault returns val if non-empty, otherwise defaultVal.
func withDefault(val, defaultVal string) string {
	if val != "" {
		return val
	}
	return defaultVal
}

// loadFromEnv reads backend, storage and checkout settings from individual
// environment variables.
func (c *Config) loadFromEnv() error {
	var err error

	c.Backend.APIBaseURL = os.Getenv("API_BASE_URL")
	if c.Backend.ChromeTLS, err = envBool("CHROME_TLS"); err != nil {
		return err
	}
	if c.Backend.Tracing, err = envBool("OTEL_TRACING"); err != nil {
		return err
	}
	if c.Backend.TimeoutSeconds, err = envInt("HTTP_TIMEOUT_SECONDS"); err != nil {
		return err
	}

	c.Storage.Driver = os.Getenv("STORAGE_DRIVER")
	c.Storage.Path = os.Getenv("STORAGE_PATH")
	c.Storage.RedisAddr = os.Getenv("REDIS_ADDR")
	c.Storage.Namespace = os.Getenv("STORAGE_NAMESPACE")
	if c.Storage.RedisDB, err = envInt("REDIS_DB"); err != nil {
		return err
	}

	c.Checkout.Strategy = os.Getenv("PAYMENT_STRATEGY")
	c.Checkout.Currency = os.Getenv("CURRENCY")
	c.Checkout.RedirectPath = os.Getenv("REDIRECT_PATH")
	if c.Checkout.AllowGuest, err = envBool("ALLOW_GUEST"); err != nil {
		return err
	}
	if c.Checkout.SkipPlace, err = envBool("SKIP_PLACE"); err != nil {
		return err
	}
	if c.Checkout.Organization, err = envIntPtr("ORGANIZATION_ID"); err != nil {
		return err
	}
	if c.Checkout.Location, err = envIntPtr("LOCATION_ID"); err != nil {
		return err
	}
	return nil
}

// loadFromSecretManager overlays backend and storage settings from GCP Secret Manager.
// Secret name format: projects/{project}/secrets/{secret_name}/versions/latest
func (c *Config) loadFromSecretManager(ctx context.Context) error {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("creating secret manager client: %w", err)
	}
	defer client.Close()

	secretName := fmt.Sprintf("projects/%s/secrets/%s/versions/latest",
		c.GCPProject, c.SecretName)

	result, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: secretName,
	})
	if err != nil {
		return fmt.Errorf("accessing secret %s: %w", secretName, err)
	}

	return c.applySecret(result.Payload.Data)
}

// applySecret overlays the sections present in a secret payload.
func (c *Config) applySecret(data []byte) error {
	var payload secretPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("parsing secret JSON: %w", err)
	}
	if payload.Backend != nil {
		c.Backend = *payload.Backend
	}
	if payload.Storage != nil {
		c.Storage = *payload.Storage
	}
	if payload.ServeToken != "" {
		c.ServeToken = payload.ServeToken
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Backend.TimeoutSeconds <= 0 {
		c.Backend.TimeoutSeconds = 30
	}
	c.Storage.Driver = withDefault(c.Storage.Driver, "file")
	if c.Storage.Driver == "file" && c.Storage.Path == "" {
		c.Storage.Path = defaultStatePath()
	}
	c.Storage.Namespace = withDefault(c.Storage.Namespace, "storefront")
	c.Checkout.Strategy = withDefault(c.Checkout.Strategy, "mock")
	c.Checkout.Currency = withDefault(c.Checkout.Currency, "NPR")
}

// validate checks that all required configuration fields are present.
func (c *Config) validate() error {
	if c.Backend.APIBaseURL == "" {
		return fmt.Errorf("api_base_url is required")
	}
	u, err := url.Parse(c.Backend.APIBaseURL)
	if err != nil {
		return fmt.Errorf("invalid api_base_url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid api_base_url: %q must be an absolute http(s) URL", c.Backend.APIBaseURL)
	}

	switch c.Storage.Driver {
	case "memory":
	case "file":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage path is required for the file driver")
		}
	case "redis":
		if c.Storage.RedisAddr == "" {
			return fmt.Errorf("redis_addr is required for the redis driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	switch c.Checkout.Strategy {
	case "mock", "redirect":
	default:
		return fmt.Errorf("unknown payment_strategy %q (mock or redirect)", c.Checkout.Strategy)
	}
	if strings.Count(c.Checkout.RedirectPath, "%d") > 1 {
		return fmt.Errorf("redirect_path may contain at most one %%d")
	}
	return nil
}

// defaultStatePath returns the per-user state file location.
func defaultStatePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".storefront-state.json"
	}
	return filepath.Join(dir, "storefront", "state.json")
}

// envOrDefault returns the environment variable value or the default if not set.
func envOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func envBool(key string) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func envInt(key string) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func envIntPtr(key string) (*int, error) {
	if os.Getenv(key) == "" {
		return nil, nil
	}
	n, err := envInt(key)
	if err != nil {
		return nil, err
	}
	return &n, nil
}
