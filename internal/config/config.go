package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds all application configuration.
type Config struct {
	// HTTP Listeners
	ListenAddr  string `koanf:"listen_addr"`
	MetricsAddr string `koanf:"metrics_addr"`

	// Water Map
	WaterMapPath string `koanf:"water_map_path"`

	// Storage
	StorageBackend string `koanf:"storage_backend"` // "bbolt" or "redis"
	DataDir        string `koanf:"data_dir"`
	RedisAddr      string `koanf:"redis_addr"`
	RedisPassword  string `koanf:"redis_password"`
	RedisDB        int    `koanf:"redis_db"`

	// Access Control
	AllowList      []string `koanf:"allowlist"`
	AdminPasswords []string `koanf:"admin_passwords"`

	// Strike Economy
	DecayPerHour      float64       `koanf:"decay_per_hour"`
	FreeThreshold     float64       `koanf:"free_threshold"`
	CooldownUnit      time.Duration `koanf:"cooldown_unit"`
	ThrottleThreshold float64       `koanf:"throttle_threshold"`
	HardThreshold     float64       `koanf:"hard_threshold"`
	MaxStrikes        float64       `koanf:"max_strikes"`
	MaxTokens         float64       `koanf:"max_tokens"`
	AllowBonus        float64       `koanf:"allow_bonus"`

	// Query Cost Model
	MinRadiusMiles  float64 `koanf:"min_radius_miles"`
	MaxRadiusMiles  float64 `koanf:"max_radius_miles"`
	TilesPerToken   float64 `koanf:"tiles_per_token"`
	ShrinkStepMiles float64 `koanf:"shrink_step_miles"`

	// Request Charges
	BaseCheckCharge      float64 `koanf:"base_check_charge"`
	SnapshotCharge       float64 `koanf:"snapshot_charge"`
	DashboardCharge      float64 `koanf:"dashboard_charge"`
	BannedSurfaceCharge  float64 `koanf:"banned_surface_charge"`
	AppealCharge         float64 `koanf:"appeal_charge"`
	InternalErrorPenalty float64 `koanf:"internal_error_penalty"`

	// Admin
	ChallengeTTL    time.Duration `koanf:"challenge_ttl"`
	BanBaseStrikes  float64       `koanf:"ban_base_strikes"`
	BanExtraStrikes float64       `koanf:"ban_extra_strikes"`
	BanCooldown     time.Duration `koanf:"ban_cooldown"`

	// Appeals
	AppealWindow time.Duration `koanf:"appeal_window"`

	// Sampling
	SamplerWorkers int `koanf:"sampler_workers"`

	// Codec
	RunWidth int `koanf:"run_width"`

	// Operational
	LogLevel        string        `koanf:"log_level"`
	LogFormat       string        `koanf:"log_format"`
	MetricsEnabled  bool          `koanf:"metrics_enabled"`
	JanitorInterval time.Duration `koanf:"janitor_interval"`
}

// sanitise removes a single layer of matching surrounding quotes from string
// fields and string slice elements. This normalises values from Docker
// --env-file which does not strip shell quoting.
func (c *Config) sanitise() {
	c.ListenAddr = stripEnvQuotes(c.ListenAddr)
	c.MetricsAddr = stripEnvQuotes(c.MetricsAddr)
	c.WaterMapPath = stripEnvQuotes(c.WaterMapPath)
	c.StorageBackend = stripEnvQuotes(c.StorageBackend)
	c.DataDir = stripEnvQuotes(c.DataDir)
	c.RedisAddr = stripEnvQuotes(c.RedisAddr)
	c.RedisPassword = stripEnvQuotes(c.RedisPassword)
	c.LogLevel = stripEnvQuotes(c.LogLevel)
	c.LogFormat = stripEnvQuotes(c.LogFormat)

	for i, s := range c.AllowList {
		c.AllowList[i] = stripEnvQuotes(s)
	}
	for i, s := range c.AdminPasswords {
		c.AdminPasswords[i] = stripEnvQuotes(s)
	}
}

// defaults sets sensible default values.
func defaults() map[string]interface{} {
	return map[string]interface{}{
		"listen_addr":     ":8080",
		"metrics_addr":    ":9090",
		"storage_backend": "bbolt",
		"data_dir":        "/data",
		"redis_addr":      "localhost:6379",
		"redis_db":        0,

		"decay_per_hour":     4.0,
		"free_threshold":     64.0,
		"cooldown_unit":      "15m",
		"throttle_threshold": 64.0,
		"hard_threshold":     768.0,
		"max_strikes":        10245760.0,
		"max_tokens":         80.0,
		"allow_bonus":        2000.0,

		"min_radius_miles":  1.0,
		"max_radius_miles":  40.0,
		"tiles_per_token":   425.0,
		"shrink_step_miles": 0.1,

		"base_check_charge":      0.01,
		"snapshot_charge":        2.25,
		"dashboard_charge":       0.7,
		"banned_surface_charge":  2.0,
		"appeal_charge":          2.25,
		"internal_error_penalty": 24.0,

		"challenge_ttl":     "10m",
		"ban_base_strikes":  500.0,
		"ban_extra_strikes": 250.0,
		"ban_cooldown":      "24h",

		"appeal_window": "168h",

		"sampler_workers": 8,
		"run_width":       4,

		"log_level":        "info",
		"log_format":       "json",
		"metrics_enabled":  true,
		"janitor_interval": "1h",
	}
}

// stripEnvQuotes removes a single layer of matching surrounding single or
// double quotes from s. Only symmetric pairs are stripped: 'x' → x, "x" → x.
// Unpaired or mismatched quotes are left as-is.
func stripEnvQuotes(s string) string {
	if len(s) < 2 {
		return s
	}
	if (s[0] == '\'' && s[len(s)-1] == '\'') ||
		(s[0] == '"' && s[len(s)-1] == '"') {
		return s[1 : len(s)-1]
	}
	return s
}

// Load reads configuration from environment variables, applying _FILE secret injection.
func Load() (*Config, error) {
	// Use "." as delimiter so that env vars with "_" in their names are
	// treated as flat keys, not nested paths. E.g. LISTEN_ADDR → "listen_addr"
	// maps to struct tag koanf:"listen_addr" without any nesting.
	k := koanf.New(".")

	defs := defaults()
	if err := k.Load(&rawProvider{data: defs}, nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(s)
	}), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	if err := injectFileSecrets(k); err != nil {
		return nil, fmt.Errorf("inject file secrets: %w", err)
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Post-process comma-separated list fields that koanf won't split automatically
	cfg.AllowList = splitCSV(k.String("allowlist"))
	cfg.AdminPasswords = splitCSV(k.String("admin_passwords"))

	cfg.sanitise()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and semantic constraints.
func (c *Config) Validate() error {
	if c.WaterMapPath == "" {
		return fmt.Errorf("WATER_MAP_PATH is required")
	}

	if c.StorageBackend != "bbolt" && c.StorageBackend != "redis" {
		return fmt.Errorf("STORAGE_BACKEND must be bbolt or redis; got %q", c.StorageBackend)
	}
	if c.StorageBackend == "redis" && c.RedisAddr == "" {
		return fmt.Errorf("REDIS_ADDR is required when STORAGE_BACKEND=redis")
	}

	if c.DecayPerHour < 0 {
		return fmt.Errorf("DECAY_PER_HOUR must be >= 0; got %v", c.DecayPerHour)
	}
	if c.HardThreshold <= c.ThrottleThreshold {
		return fmt.Errorf("HARD_THRESHOLD (%v) must exceed THROTTLE_THRESHOLD (%v)",
			c.HardThreshold, c.ThrottleThreshold)
	}
	if c.MaxStrikes <= c.HardThreshold {
		return fmt.Errorf("MAX_STRIKES (%v) must exceed HARD_THRESHOLD (%v)",
			c.MaxStrikes, c.HardThreshold)
	}
	if c.CooldownUnit <= 0 {
		return fmt.Errorf("COOLDOWN_UNIT must be > 0; got %s", c.CooldownUnit)
	}

	if c.MinRadiusMiles <= 0 || c.MaxRadiusMiles <= c.MinRadiusMiles {
		return fmt.Errorf("radius bounds invalid: min=%v max=%v", c.MinRadiusMiles, c.MaxRadiusMiles)
	}
	if c.TilesPerToken <= 0 {
		return fmt.Errorf("TILES_PER_TOKEN must be > 0; got %v", c.TilesPerToken)
	}
	if c.ShrinkStepMiles <= 0 {
		return fmt.Errorf("SHRINK_STEP_MILES must be > 0; got %v", c.ShrinkStepMiles)
	}

	if c.SamplerWorkers < 1 || c.SamplerWorkers > 64 {
		return fmt.Errorf("SAMPLER_WORKERS must be 1–64; got %d", c.SamplerWorkers)
	}

	if c.RunWidth < 1 || c.RunWidth > 8 {
		return fmt.Errorf("RUN_WIDTH must be 1–8; got %d", c.RunWidth)
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of trace,debug,info,warn,error,fatal,panic; got %q", c.LogLevel)
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("LOG_FORMAT must be json or text; got %q", c.LogFormat)
	}

	if c.JanitorInterval <= 0 {
		return fmt.Errorf("JANITOR_INTERVAL must be > 0; got %s", c.JanitorInterval)
	}
	if c.AppealWindow <= 0 {
		return fmt.Errorf("APPEAL_WINDOW must be > 0; got %s", c.AppealWindow)
	}

	return nil
}

// fileSecretKeys lists config keys that support _FILE indirection.
var fileSecretKeys = []string{
	"admin_passwords",
	"redis_password",
}

func injectFileSecrets(k *koanf.Koanf) error {
	for _, key := range fileSecretKeys {
		fileKey := key + "_file"
		filePath := k.String(fileKey)
		if filePath == "" {
			envKey := strings.ToUpper(key) + "_FILE"
			filePath = os.Getenv(envKey)
		}
		if filePath == "" {
			continue
		}
		filePath = stripEnvQuotes(filePath)
		content, err := os.ReadFile(filePath)
		if err != nil {
			return fmt.Errorf("reading secret file for %s (%s): %w", key, filePath, err)
		}
		val := strings.TrimSpace(string(content))
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("setting %s from file: %w", key, err)
		}
	}
	return nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// rawProvider implements koanf.Provider for a map[string]interface{}.
type rawProvider struct {
	data map[string]interface{}
}

// Read returns the config map directly (no Parser needed).
func (r *rawProvider) Read() (map[string]interface{}, error) {
	return r.data, nil
}

// ReadBytes is not used by rawProvider; koanf calls Read() when no Parser is given.
func (r *rawProvider) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("rawProvider does not support ReadBytes")
}
