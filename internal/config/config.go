package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// Config holds all service settings.
type Config struct {
	HTTPPort       string
	APIKey         string
	Environment    string
	LogLevel       string
	StrictConfig   bool
	LoadsPath      string
	WatchLoads     bool
	StoreBackend   string
	CallsPath      string
	DBPath         string
	FMCSA          FMCSAConfig
	VerifyCacheTTL time.Duration

	// CORSOrigins lists browser origins allowed to call the API. Empty allows any origin.
	CORSOrigins []string
}

// FMCSAConfig describes the carrier registry client.
type FMCSAConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

type fileConfig struct {
	HTTPPort    string          `json:"http_port" yaml:"http_port"`
	Environment string          `json:"environment" yaml:"environment"`
	LogLevel    string          `json:"log_level" yaml:"log_level"`
	CORSOrigins []string        `json:"cors_origins" yaml:"cors_origins"`
	Loads       loadsFileConfig `json:"loads" yaml:"loads"`
	Store       storeFileConfig `json:"store" yaml:"store"`
	FMCSA       fmcsaFileConfig `json:"fmcsa" yaml:"fmcsa"`
}

type loadsFileConfig struct {
	Path  string `json:"path" yaml:"path"`
	Watch *bool  `json:"watch" yaml:"watch"`
}

type storeFileConfig struct {
	Backend   string `json:"backend" yaml:"backend"`
	CallsPath string `json:"calls_path" yaml:"calls_path"`
	DBPath    string `json:"db_path" yaml:"db_path"`
}

type fmcsaFileConfig struct {
	BaseURL     string `json:"base_url" yaml:"base_url"`
	TimeoutSec  *int   `json:"timeout_sec" yaml:"timeout_sec"`
	CacheTTLSec *int   `json:"cache_ttl_sec" yaml:"cache_ttl_sec"`
}

const (
	defaultPort         = ":5160"
	defaultEnvironment  = "local"
	defaultLogLevel     = "info"
	defaultLoadsPath    = "data/loads.json"
	defaultCallsPath    = "data/calls_database.json"
	defaultDBFile       = "data/calls.db"
	defaultFMCSABaseURL = "https://mobile.fmcsa.dot.gov/qc/services"
	defaultFMCSATimeout = 6
	maxFMCSATimeout     = 30
	defaultCacheTTLSec  = 600
)

// Load reads configuration from an optional .env file, an optional config file
// and the environment, in increasing order of precedence.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		APIKey:       os.Getenv("API_KEY"),
		StrictConfig: parseBoolEnv("STRICT_CONFIG"),
		FMCSA: FMCSAConfig{
			APIKey:  strings.TrimSpace(os.Getenv("FMCSA_API_KEY")),
			Timeout: defaultFMCSATimeout * time.Second,
		},
		VerifyCacheTTL: defaultCacheTTLSec * time.Second,
	}

	configPath := getEnv("CONFIG_PATH", filepath.Join("config", "config.yaml"))
	fileCfg, fileErr := loadFileConfig(configPath)
	if fileErr != nil {
		if cfg.StrictConfig {
			return cfg, fmt.Errorf("config load failed (%s): %w", configPath, fileErr)
		}
		if !errors.Is(fileErr, os.ErrNotExist) {
			log.Printf("config load failed (%s): %v (using defaults)", configPath, fileErr)
		}
	}

	cfg.Environment = firstNonEmpty(os.Getenv("ENVIRONMENT"), fileCfg.Environment, defaultEnvironment)
	cfg.LogLevel = strings.ToLower(firstNonEmpty(os.Getenv("LOG_LEVEL"), fileCfg.LogLevel, defaultLogLevel))
	cfg.LoadsPath = firstNonEmpty(os.Getenv("LOADS_PATH"), fileCfg.Loads.Path, defaultLoadsPath)
	cfg.CallsPath = firstNonEmpty(os.Getenv("CALLS_PATH"), fileCfg.Store.CallsPath, defaultCallsPath)
	cfg.DBPath = firstNonEmpty(os.Getenv("DB_PATH"), fileCfg.Store.DBPath, defaultDBFile)
	cfg.StoreBackend = strings.ToLower(firstNonEmpty(os.Getenv("STORE_BACKEND"), fileCfg.Store.Backend, BackendJSON))
	cfg.FMCSA.BaseURL = strings.TrimRight(firstNonEmpty(os.Getenv("FMCSA_BASE_URL"), fileCfg.FMCSA.BaseURL, defaultFMCSABaseURL), "/")

	cfg.CORSOrigins = splitList(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = splitList(strings.Join(fileCfg.CORSOrigins, ","))
	}

	if fileCfg.Loads.Watch != nil {
		cfg.WatchLoads = *fileCfg.Loads.Watch
	}
	cfg.WatchLoads = parseBoolEnvDefault("LOADS_WATCH", cfg.WatchLoads)

	cfg.HTTPPort = firstNonEmpty(os.Getenv("HTTP_PORT"), fileCfg.HTTPPort, defaultPort)
	if legacyPort := os.Getenv("PORT"); legacyPort != "" && cfg.HTTPPort == defaultPort {
		cfg.HTTPPort = legacyPort
	}
	if !strings.HasPrefix(cfg.HTTPPort, ":") {
		cfg.HTTPPort = ":" + cfg.HTTPPort
	}

	if fileCfg.FMCSA.TimeoutSec != nil && *fileCfg.FMCSA.TimeoutSec > 0 {
		cfg.FMCSA.Timeout = time.Duration(*fileCfg.FMCSA.TimeoutSec) * time.Second
	}
	if v, ok, err := parseIntEnv("FMCSA_TIMEOUT_SEC"); err != nil {
		if cfg.StrictConfig {
			return cfg, fmt.Errorf("invalid FMCSA_TIMEOUT_SEC: %w", err)
		}
		log.Printf("invalid FMCSA_TIMEOUT_SEC: %v (using default)", err)
	} else if ok && v > 0 {
		cfg.FMCSA.Timeout = time.Duration(v) * time.Second
	}
	if cfg.FMCSA.Timeout > maxFMCSATimeout*time.Second {
		log.Printf("FMCSA timeout capped at %ds (was %s)", maxFMCSATimeout, cfg.FMCSA.Timeout)
		cfg.FMCSA.Timeout = maxFMCSATimeout * time.Second
	}

	if fileCfg.FMCSA.CacheTTLSec != nil && *fileCfg.FMCSA.CacheTTLSec >= 0 {
		cfg.VerifyCacheTTL = time.Duration(*fileCfg.FMCSA.CacheTTLSec) * time.Second
	}
	if v, ok, err := parseIntEnv("VERIFY_CACHE_TTL_SEC"); err != nil {
		if cfg.StrictConfig {
			return cfg, fmt.Errorf("invalid VERIFY_CACHE_TTL_SEC: %w", err)
		}
		log.Printf("invalid VERIFY_CACHE_TTL_SEC: %v (using default)", err)
	} else if ok && v >= 0 {
		cfg.VerifyCacheTTL = time.Duration(v) * time.Second
	}

	if err := validateConfig(cfg); err != nil {
		if cfg.StrictConfig {
			return cfg, err
		}
		log.Printf("config validation failed: %v (continuing)", err)
	}

	return cfg, nil
}

func loadFileConfig(path string) (fileConfig, error) {
	var cfg fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if len(data) == 0 {
		return cfg, errors.New("empty config file")
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return errors.New("API_KEY is required")
	}
	if strings.TrimSpace(cfg.LoadsPath) == "" {
		return errors.New("LOADS_PATH is required")
	}
	switch cfg.StoreBackend {
	case BackendJSON:
		if strings.TrimSpace(cfg.CallsPath) == "" {
			return errors.New("CALLS_PATH is required for the json store")
		}
	case BackendSQLite:
		if strings.TrimSpace(cfg.DBPath) == "" {
			return errors.New("DB_PATH is required for the sqlite store")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
	return nil
}

// IsLocal reports whether the service runs in a developer environment.
func (c Config) IsLocal() bool {
	switch strings.ToLower(c.Environment) {
	case "", "local", "dev", "development":
		return true
	default:
		return false
	}
}

// Now returns the wall-clock time in UTC.
func Now() time.Time {
	return time.Now().UTC()
}

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if strings.TrimSpace(val) != "" {
			return strings.TrimSpace(val)
		}
	}
	return ""
}

// splitList splits a comma separated value, dropping blanks and "*".
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" && part != "*" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseBoolEnv(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseBoolEnvDefault(key string, defaultVal bool) bool {
	if strings.TrimSpace(os.Getenv(key)) == "" {
		return defaultVal
	}
	return parseBoolEnv(key)
}

func parseIntEnv(key string) (int, bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false, nil
	}
	val, err := strconv.Atoi(raw)
	return val, true, err
}
