package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config location; BOOKTRAK_CONFIG overrides it.
var ConfigPath = "config.yaml"

const (
	defaultLoanPeriodDays                 = 14
	defaultRegistrationRateLimitPerMinute = 5
	defaultLoginRateLimitPerMinute        = 10
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                           string   `yaml:"port"`
	DatabaseURL                    string   `yaml:"databaseURL"`
	RedisAddr                      string   `yaml:"redisAddr"`
	RedisPassword                  string   `yaml:"redisPassword"`
	JWTSecret                      string   `yaml:"jwtSecret"`
	TokenTTL                       string   `yaml:"tokenTTL"`
	LogLevel                       string   `yaml:"logLevel"`
	LoanPeriodDays                 *int     `yaml:"loanPeriodDays"`
	RegistrationRateLimitPerMinute *int     `yaml:"registrationRateLimitPerMinute"`
	LoginRateLimitPerMinute        *int     `yaml:"loginRateLimitPerMinute"`
	TrustedProxies                 []string `yaml:"trustedProxies"`
	CORSAllowedOrigins             []string `yaml:"corsAllowedOrigins"`
}

// ResolvePath returns BOOKTRAK_CONFIG when set, else ConfigPath.
func ResolvePath() string {
	if v := strings.TrimSpace(os.Getenv("BOOKTRAK_CONFIG")); v != "" {
		return v
	}
	return ConfigPath
}

// Load reads config from path (defaults to ConfigPath), applies environment
// overrides and defaults, then validates.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) error {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("BOOKTRAK_TOKEN_TTL"); v != "" {
		cfg.TokenTTL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("BOOKTRAK_TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = splitList(v)
	}
	for env, dst := range map[string]**int{
		"BOOKTRAK_LOAN_PERIOD_DAYS":                   &cfg.LoanPeriodDays,
		"BOOKTRAK_REGISTRATION_RATE_LIMIT_PER_MINUTE": &cfg.RegistrationRateLimitPerMinute,
		"BOOKTRAK_LOGIN_RATE_LIMIT_PER_MINUTE":        &cfg.LoginRateLimitPerMinute,
	} {
		v := strings.TrimSpace(os.Getenv(env))
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s must be an integer: %w", env, err)
		}
		*dst = &n
	}
	return nil
}

func applyDefaults(cfg *FileConfig) {
	setDefault := func(dst **int, n int) {
		if *dst == nil {
			*dst = &n
		}
	}
	setDefault(&cfg.LoanPeriodDays, defaultLoanPeriodDays)
	setDefault(&cfg.RegistrationRateLimitPerMinute, defaultRegistrationRateLimitPerMinute)
	setDefault(&cfg.LoginRateLimitPerMinute, defaultLoginRateLimitPerMinute)
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

func validateConfig(cfg FileConfig) error {
	if strings.TrimSpace(cfg.Port) == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return errors.New("config: databaseURL is required (set in config.yaml)")
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return errors.New("config: jwtSecret is required (set JWT_SECRET)")
	}
	if _, err := ParseTokenTTL(cfg.TokenTTL); err != nil {
		return err
	}
	if *cfg.LoanPeriodDays <= 0 {
		return errors.New("config: loanPeriodDays must be > 0")
	}
	if *cfg.RegistrationRateLimitPerMinute < 0 || *cfg.LoginRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	return nil
}

// LoanPeriod returns the configured loan period.
func (c FileConfig) LoanPeriod() time.Duration {
	days := defaultLoanPeriodDays
	if c.LoanPeriodDays != nil {
		days = *c.LoanPeriodDays
	}
	return time.Duration(days) * 24 * time.Hour
}

// ParseTokenTTL parses optional token TTL duration string. Empty means
// tokens never expire.
func ParseTokenTTL(ttlStr string) (time.Duration, error) {
	ttlStr = strings.TrimSpace(ttlStr)
	if ttlStr == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(ttlStr)
	if err != nil {
		return 0, fmt.Errorf("invalid tokenTTL duration: %w", err)
	}
	if dur < 0 {
		return 0, errors.New("config: tokenTTL must be >= 0")
	}
	return dur, nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
