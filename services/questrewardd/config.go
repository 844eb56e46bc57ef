package questrewardd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML and TOML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	return d.UnmarshalText([]byte(value.Value))
}

// UnmarshalText parses human readable duration strings.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime configuration for questrewardd.
type Config struct {
	ListenAddress string          `yaml:"listen" toml:"listen"`
	Owner         string          `yaml:"owner" toml:"owner"`
	Admin         string          `yaml:"admin" toml:"admin"`
	PauseOnStart  bool            `yaml:"pause" toml:"pause"`
	LogLevel      string          `yaml:"log_level" toml:"log_level"`
	Storage       StorageConfig   `yaml:"storage" toml:"storage"`
	Auth          AuthConfig      `yaml:"auth" toml:"auth"`
	RateLimit     RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
	Chain         ChainConfig     `yaml:"chain" toml:"chain"`
	Assets        []string        `yaml:"assets" toml:"assets"`
	Audit         AuditConfig     `yaml:"audit" toml:"audit"`
	Events        EventsConfig    `yaml:"events" toml:"events"`
	Webhook       WebhookConfig   `yaml:"webhook" toml:"webhook"`
}

// StorageConfig selects the ledger state backend.
type StorageConfig struct {
	Backend string `yaml:"backend" toml:"backend"`
	Path    string `yaml:"path" toml:"path"`
}

// AuthConfig configures JWT caller authentication.
type AuthConfig struct {
	HMACSecret     string   `yaml:"hmac_secret" toml:"hmac_secret"`
	HMACSecretEnv  string   `yaml:"hmac_secret_env" toml:"hmac_secret_env"`
	HMACSecretFile string   `yaml:"hmac_secret_file" toml:"hmac_secret_file"`
	Issuer         string   `yaml:"issuer" toml:"issuer"`
	Audience       string   `yaml:"audience" toml:"audience"`
	ClockSkew      Duration `yaml:"clock_skew" toml:"clock_skew"`
}

// RateLimitConfig bounds requests per caller. Anonymous callers are keyed by
// the connecting address; X-Real-IP and X-Forwarded-For are consulted only
// when TrustProxyHeaders is set or the connection comes from one of
// TrustedProxies.
type RateLimitConfig struct {
	RequestsPerMinute float64  `yaml:"requests_per_minute" toml:"requests_per_minute"`
	Burst             int      `yaml:"burst" toml:"burst"`
	TrustProxyHeaders bool     `yaml:"trust_proxy_headers" toml:"trust_proxy_headers"`
	TrustedProxies    []string `yaml:"trusted_proxies" toml:"trusted_proxies"`
}

// ChainConfig captures the EVM endpoint and custody signer.
type ChainConfig struct {
	Endpoint      string   `yaml:"endpoint" toml:"endpoint"`
	Confirmations uint64   `yaml:"confirmations" toml:"confirmations"`
	PollInterval  Duration `yaml:"poll_interval" toml:"poll_interval"`
	GasLimit      uint64   `yaml:"gas_limit" toml:"gas_limit"`
	// ConfirmTimeout bounds the wait for a broadcast transaction, independent
	// of the HTTP request that triggered it.
	ConfirmTimeout Duration `yaml:"confirm_timeout" toml:"confirm_timeout"`
	SignerKey      string   `yaml:"signer_key" toml:"signer_key"`
	SignerKeyEnv   string   `yaml:"signer_key_env" toml:"signer_key_env"`
	SignerKeyFile  string   `yaml:"signer_key_file" toml:"signer_key_file"`
	Keystore       string   `yaml:"keystore" toml:"keystore"`
	PassphraseEnv  string   `yaml:"passphrase_env" toml:"passphrase_env"`
}

// AuditConfig configures the SQL audit sink. An empty driver disables it.
type AuditConfig struct {
	Driver string `yaml:"driver" toml:"driver"`
	DSN    string `yaml:"dsn" toml:"dsn"`
	DSNEnv string `yaml:"dsn_env" toml:"dsn_env"`
}

// EventsConfig sizes the in-process event stream.
type EventsConfig struct {
	History int `yaml:"history" toml:"history"`
}

// WebhookConfig forwards ledger events to an HTTP endpoint. An empty
// endpoint disables delivery.
type WebhookConfig struct {
	Endpoint  string   `yaml:"endpoint" toml:"endpoint"`
	Secret    string   `yaml:"secret" toml:"secret"`
	SecretEnv string   `yaml:"secret_env" toml:"secret_env"`
	Topics    []string `yaml:"topics" toml:"topics"`
}

// LoadConfig reads configuration from the supplied path. Files ending in
// .toml are decoded as TOML, everything else as YAML.
func LoadConfig(path string) (Config, error) {
	cfg := Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	default:
		file, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		dec := yaml.NewDecoder(file)
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	}
	applyDefaults(&cfg)
	if err := cfg.Auth.normalise(); err != nil {
		return cfg, fmt.Errorf("auth: %w", err)
	}
	if err := cfg.Chain.normalise(); err != nil {
		return cfg, fmt.Errorf("chain signer: %w", err)
	}
	cfg.Audit.normalise()
	cfg.Webhook.normalise()
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7090"
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "leveldb"
	}
	if cfg.Storage.Backend == "leveldb" && cfg.Storage.Path == "" {
		cfg.Storage.Path = "data/questreward"
	}
	if cfg.Auth.ClockSkew.Duration == 0 {
		cfg.Auth.ClockSkew.Duration = 2 * time.Minute
	}
	if cfg.RateLimit.RequestsPerMinute <= 0 {
		cfg.RateLimit.RequestsPerMinute = 120
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 20
	}
	if cfg.Chain.PollInterval.Duration == 0 {
		cfg.Chain.PollInterval.Duration = 3 * time.Second
	}
	if cfg.Chain.ConfirmTimeout.Duration == 0 {
		cfg.Chain.ConfirmTimeout.Duration = 2 * time.Minute
	}
	if cfg.Chain.Confirmations == 0 {
		cfg.Chain.Confirmations = 1
	}
	if cfg.Events.History <= 0 {
		cfg.Events.History = 2048
	}
}

func validateConfig(cfg Config) error {
	if !common.IsHexAddress(cfg.Owner) {
		return fmt.Errorf("owner must be a hex address")
	}
	if !common.IsHexAddress(cfg.Admin) || common.HexToAddress(cfg.Admin) == (common.Address{}) {
		return fmt.Errorf("admin must be a non-zero hex address")
	}
	switch cfg.Storage.Backend {
	case "leveldb", "memory":
	default:
		return fmt.Errorf("unsupported storage backend %q", cfg.Storage.Backend)
	}
	if cfg.Auth.HMACSecret == "" {
		return fmt.Errorf("auth hmac secret must be configured")
	}
	if strings.TrimSpace(cfg.Chain.Endpoint) == "" {
		return fmt.Errorf("chain endpoint must be configured")
	}
	for _, asset := range cfg.Assets {
		if !common.IsHexAddress(asset) {
			return fmt.Errorf("asset %q is not a hex address", asset)
		}
	}
	switch cfg.Audit.Driver {
	case "", "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported audit driver %q", cfg.Audit.Driver)
	}
	if cfg.Audit.Driver != "" && cfg.Audit.DSN == "" {
		return fmt.Errorf("audit dsn must be configured for driver %s", cfg.Audit.Driver)
	}
	if cfg.Webhook.Endpoint != "" && cfg.Webhook.Secret == "" {
		return fmt.Errorf("webhook secret must be configured")
	}
	return nil
}

func (a *AuthConfig) normalise() error {
	secret, err := resolveSecret(a.HMACSecret, a.HMACSecretEnv, a.HMACSecretFile)
	if err != nil {
		return err
	}
	a.HMACSecret = secret
	a.Issuer = strings.TrimSpace(a.Issuer)
	a.Audience = strings.TrimSpace(a.Audience)
	return nil
}

func (c *ChainConfig) normalise() error {
	c.Keystore = strings.TrimSpace(c.Keystore)
	c.PassphraseEnv = strings.TrimSpace(c.PassphraseEnv)
	key, err := resolveSecret(c.SignerKey, c.SignerKeyEnv, c.SignerKeyFile)
	if err != nil {
		return err
	}
	c.SignerKey = key
	if c.SignerKey == "" && c.Keystore == "" {
		return fmt.Errorf("signer_key or keystore is required")
	}
	if c.SignerKey != "" && c.Keystore != "" {
		return fmt.Errorf("configure either signer_key or keystore, not both")
	}
	return nil
}

func (a *AuditConfig) normalise() {
	a.Driver = strings.ToLower(strings.TrimSpace(a.Driver))
	a.DSN = strings.TrimSpace(a.DSN)
	if env := strings.TrimSpace(a.DSNEnv); env != "" && a.DSN == "" {
		a.DSN = strings.TrimSpace(os.Getenv(env))
	}
}

func (w *WebhookConfig) normalise() {
	w.Endpoint = strings.TrimSpace(w.Endpoint)
	if env := strings.TrimSpace(w.SecretEnv); env != "" && w.Secret == "" {
		w.Secret = os.Getenv(env)
	}
}

// resolveSecret returns the inline value, else the named environment
// variable, else the file contents.
func resolveSecret(inline, envVar, file string) (string, error) {
	if value := strings.TrimSpace(inline); value != "" {
		return value, nil
	}
	if envVar = strings.TrimSpace(envVar); envVar != "" {
		value := strings.TrimSpace(os.Getenv(envVar))
		if value == "" {
			return "", fmt.Errorf("%s is empty", envVar)
		}
		return value, nil
	}
	if file = strings.TrimSpace(file); file != "" {
		contents, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", file, err)
		}
		return strings.TrimSpace(string(contents)), nil
	}
	return "", nil
}

// ParseAddresses converts configured hex strings into addresses.
func ParseAddresses(values []string) []common.Address {
	out := make([]common.Address, 0, len(values))
	for _, value := range values {
		out = append(out, common.HexToAddress(strings.TrimSpace(value)))
	}
	return out
}
