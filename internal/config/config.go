package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds everything the server and CLI need. Loaded from a JSON file,
// then overridden by environment variables (CSVHOST_*).
type Config struct {
	Bind     string `json:"bind"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
	DataDir  string `json:"data_dir"`
	HTTPS    bool   `json:"https"`
	CertFile string `json:"cert_file"`
	KeyFile  string `json:"key_file"`

	SentryDSN   string `json:"sentry_dsn"`
	Environment string `json:"environment"`

	// Rate limiting. Windows are in seconds to keep the file format flat.
	APIRateLimit        int `json:"api_rate_limit"`
	APIRateWindowSecs   int `json:"api_rate_window_secs"`
	LoginRateLimit      int `json:"login_rate_limit"`
	LoginRateWindowSecs int `json:"login_rate_window_secs"`

	// Account lockout and anomaly thresholds.
	LockoutAttempts      int `json:"lockout_attempts"`
	LockoutMinutes       int `json:"lockout_minutes"`
	FailedLoginThreshold int `json:"failed_login_threshold"`
	APIAnomalyThreshold  int `json:"api_anomaly_threshold"`

	SessionTimeoutMins int `json:"session_timeout_mins"`

	// Breach alert delivery. When SMTPAddr is empty alerts go to the log only.
	SecurityEmail string `json:"security_email"`
	SMTPAddr      string `json:"smtp_addr"`
	SMTPFrom      string `json:"smtp_from"`
	SMTPUser      string `json:"smtp_user"`
	SMTPPassword  string `json:"smtp_password"`
}

func DefaultPaths() (configPath, dataDir string, err error) {
	cfgRoot, err := os.UserConfigDir()
	if err != nil {
		return "", "", fmt.Errorf("resolve user config dir: %w", err)
	}
	var dataRoot string
	switch runtime.GOOS {
	case "windows":
		dataRoot = cfgRoot
	default:
		if p, derr := os.UserHomeDir(); derr == nil {
			dataRoot = filepath.Join(p, ".local", "share")
		} else {
			dataRoot = cfgRoot
		}
	}
	configPath = filepath.Join(cfgRoot, "csvhost", "config.json")
	dataDir = filepath.Join(dataRoot, "csvhost")
	return configPath, dataDir, nil
}

func Default(dataDir string) Config {
	return Config{
		Bind:                 "0.0.0.0",
		Port:                 7420,
		LogLevel:             "info",
		DataDir:              dataDir,
		Environment:          "production",
		APIRateLimit:         100,
		APIRateWindowSecs:    3600,
		LoginRateLimit:       5,
		LoginRateWindowSecs:  900,
		LockoutAttempts:      5,
		LockoutMinutes:       30,
		FailedLoginThreshold: 10,
		APIAnomalyThreshold:  500,
		SessionTimeoutMins:   60,
		SecurityEmail:        "security@localhost",
		SMTPFrom:             "csvhost@localhost",
	}
}

// LoadOrDefault reads the config file if it exists, layers .env and CSVHOST_*
// environment variables over it, and validates the result.
func LoadOrDefault(configPath, dataDirOverride string) (Config, error) {
	_, defaultData, err := DefaultPaths()
	if err != nil {
		return Config{}, err
	}
	cfg := Default(defaultData)

	b, err := os.ReadFile(configPath)
	if err == nil {
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	// .env is optional; real environment variables still win.
	_ = godotenv.Load()
	applyEnv(&cfg)

	if dataDirOverride != "" {
		cfg.DataDir = dataDirOverride
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CSVHOST_BIND"); v != "" {
		cfg.Bind = v
	}
	if v := os.Getenv("CSVHOST_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Port = p
		}
	}
	if v := os.Getenv("CSVHOST_LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("CSVHOST_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("CSVHOST_SENTRY_DSN"); v != "" {
		cfg.SentryDSN = v
	}
	if v := os.Getenv("CSVHOST_ENVIRONMENT"); v != "" {
		cfg.Environment = v
	}
	if v := os.Getenv("CSVHOST_SECURITY_EMAIL"); v != "" {
		cfg.SecurityEmail = v
	}
	if v := os.Getenv("CSVHOST_SMTP_ADDR"); v != "" {
		cfg.SMTPAddr = v
	}
	if v := os.Getenv("CSVHOST_SMTP_FROM"); v != "" {
		cfg.SMTPFrom = v
	}
	if v := os.Getenv("CSVHOST_SMTP_USER"); v != "" {
		cfg.SMTPUser = v
	}
	if v := os.Getenv("CSVHOST_SMTP_PASSWORD"); v != "" {
		cfg.SMTPPassword = v
	}
}

func Save(configPath string, cfg Config) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	buf, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(configPath, buf, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func Validate(cfg Config) error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("invalid port %d", cfg.Port)
	}
	if cfg.APIRateLimit <= 0 || cfg.LoginRateLimit <= 0 {
		return fmt.Errorf("rate limits must be positive")
	}
	if cfg.APIRateWindowSecs <= 0 || cfg.LoginRateWindowSecs <= 0 {
		return fmt.Errorf("rate windows must be positive")
	}
	if cfg.LockoutAttempts <= 0 {
		return fmt.Errorf("lockout attempts must be positive")
	}
	if cfg.FailedLoginThreshold <= 0 || cfg.APIAnomalyThreshold <= 0 {
		return fmt.Errorf("anomaly thresholds must be positive")
	}
	if cfg.SessionTimeoutMins <= 0 {
		return fmt.Errorf("session timeout must be positive")
	}
	if cfg.HTTPS && (cfg.CertFile == "" || cfg.KeyFile == "") {
		return fmt.Errorf("https requires cert_file and key_file")
	}
	return nil
}

// ConfigPathFromEnv resolves the config path, honoring CSVHOST_CONFIG.
func ConfigPathFromEnv() (string, error) {
	if p := os.Getenv("CSVHOST_CONFIG"); p != "" {
		return p, nil
	}
	p, _, err := DefaultPaths()
	return p, err
}
