package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// City is one broadcast city; its forecast window is also what cache warming keeps fresh.
type City struct {
	Name      string  `yaml:"name" validate:"required"`
	Latitude  float64 `yaml:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `yaml:"longitude" validate:"gte=-180,lte=180"`
}

// DefaultCities are broadcast when the config file lists none.
var DefaultCities = []City{
	{Name: "横浜", Latitude: 35.4437, Longitude: 139.6380},
	{Name: "松山", Latitude: 33.8392, Longitude: 132.7657},
	{Name: "鹿児島", Latitude: 31.5966, Longitude: 130.5571},
	{Name: "秋田", Latitude: 39.7186, Longitude: 140.1024},
}

// Config holds bot configuration loaded from YAML, secrets and env.
type Config struct {
	Env        string
	ServerPort string `validate:"required,numeric"`

	LineAPIBaseURL         string `validate:"required,url"`
	LineChannelAccessToken string `validate:"required"`
	LineChannelSecret      string
	LineTimeout            time.Duration `validate:"gt=0"`
	// TestMode pushes the broadcast to TestUserID instead of every follower.
	TestMode   bool
	TestUserID string `validate:"required_if=TestMode true"`

	ForecastURL      string        `validate:"required,url"`
	ForecastTimeout  time.Duration `validate:"gt=0"`
	GeocodingURL     string        `validate:"required,url"`
	GeocodingTimeout time.Duration `validate:"gt=0"`

	RetryAttempts           int     `validate:"min=1,max=3"`
	RetryBackoffBase        float64 `validate:"gte=1"`
	RetryBackoffUnit        time.Duration
	RateLimitFloor          time.Duration
	BreakerFailureThreshold uint32 `validate:"min=1"`
	BreakerOpenTimeout      time.Duration

	CacheBackend          string        `validate:"oneof=in_memory memcached redis"`
	CacheTTL              time.Duration `validate:"gt=0"`
	MemcachedAddrs        string        `validate:"required_if=CacheBackend memcached"`
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int
	RedisAddr             string `validate:"required_if=CacheBackend redis"`
	RedisPassword         string
	RedisDB               int `validate:"min=0"`
	RedisTimeout          time.Duration

	StateIdleTimeout   time.Duration `validate:"gt=0"`
	StateMaxLifetime   time.Duration `validate:"gtfield=StateIdleTimeout"`
	StateSweepInterval time.Duration `validate:"gt=0"`

	// CoordinateTimezone is used for forecasts requested by shared location.
	CoordinateTimezone string `validate:"required"`

	RequestTimeout  time.Duration
	RateLimitRPS    int
	RateLimitBurst  int
	ShutdownTimeout time.Duration

	DegradedWindow   time.Duration
	DegradedErrorPct int `validate:"min=0,max=100"`

	WarmEnabled  bool
	WarmInterval time.Duration

	BroadcastTimezone       string `validate:"required"`
	BroadcastHour           int    `validate:"min=0,max=23"`
	BroadcastIncludeWeather bool
	BroadcastSchedule       string
	BroadcastCities         []City `validate:"dive"`
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Line struct {
		BaseURL  string `yaml:"base_url"`
		Timeout  string `yaml:"timeout"`
		TestMode *bool  `yaml:"test_mode"`
	} `yaml:"line"`

	Upstreams struct {
		ForecastURL      string `yaml:"forecast_url"`
		ForecastTimeout  string `yaml:"forecast_timeout"`
		GeocodingURL     string `yaml:"geocoding_url"`
		GeocodingTimeout string `yaml:"geocoding_timeout"`
	} `yaml:"upstreams"`

	Reliability struct {
		RetryMaxAttempts        int     `yaml:"retry_max_attempts"`
		RetryBackoffBase        float64 `yaml:"retry_backoff_base"`
		RetryBackoffUnit        string  `yaml:"retry_backoff_unit"`
		RateLimitFloor          string  `yaml:"rate_limited_wait_floor"`
		BreakerFailureThreshold uint32  `yaml:"breaker_failure_threshold"`
		BreakerOpenTimeout      string  `yaml:"breaker_open_timeout"`
		RateLimitRPS            int     `yaml:"rate_limit_rps"`
		RateLimitBurst          int     `yaml:"rate_limit_burst"`
	} `yaml:"reliability"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		Backend   string `yaml:"backend"`
		TTL       string `yaml:"ttl"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		Redis struct {
			Addr    string `yaml:"addr"`
			DB      int    `yaml:"db"`
			Timeout string `yaml:"timeout"`
		} `yaml:"redis"`
		Warm struct {
			Enabled  bool   `yaml:"enabled"`
			Interval string `yaml:"interval"`
		} `yaml:"warm"`
	} `yaml:"cache"`

	Conversation struct {
		IdleTimeout        string `yaml:"idle_timeout"`
		MaxLifetime        string `yaml:"max_lifetime"`
		SweepInterval      string `yaml:"sweep_interval"`
		CoordinateTimezone string `yaml:"coordinate_timezone"`
	} `yaml:"conversation"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Health struct {
		DegradedWindow   string `yaml:"degraded_window"`
		DegradedErrorPct int    `yaml:"degraded_error_pct"`
	} `yaml:"health"`

	Broadcast struct {
		Timezone       string `yaml:"timezone"`
		Hour           *int   `yaml:"hour"`
		IncludeWeather *bool  `yaml:"include_weather"`
		Schedule       string `yaml:"schedule"`
		Cities         []City `yaml:"cities"`
	} `yaml:"broadcast"`
}

type secretsFile struct {
	LineChannelAccessToken string `yaml:"line_channel_access_token"`
	LineChannelSecret      string `yaml:"line_channel_secret"`
	RedisPassword          string `yaml:"redis_password"`
}

var validate = validator.New()

// Load reads configuration relative to the working directory. See LoadDir.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	return LoadDir(cwd)
}

// LoadDir reads dir/.env (optional, never overriding set variables), then
// dir/config/{ENV_NAME}.yaml (default dev) and the optional dir/config/secrets.yaml.
// Environment variables override both files.
func LoadDir(dir string) (*Config, error) {
	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}
	configPath := filepath.Join(dir, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	var sec secretsFile
	secretsData, err := os.ReadFile(filepath.Join(dir, "config", "secrets.yaml"))
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read secrets file: %w", err)
		}
	} else if err := yaml.Unmarshal(secretsData, &sec); err != nil {
		return nil, fmt.Errorf("parse secrets file: %w", err)
	}

	cfg := &Config{Env: env}

	cfg.ServerPort = firstNonEmpty(os.Getenv("PORT"), fc.Server.Port, "8080")

	cfg.LineAPIBaseURL = firstNonEmpty(os.Getenv("LINE_API_BASE_URL"), fc.Line.BaseURL, "https://api.line.me")
	cfg.LineChannelAccessToken = firstNonEmpty(os.Getenv("LINE_CHANNEL_ACCESS_TOKEN"), sec.LineChannelAccessToken)
	cfg.LineChannelSecret = firstNonEmpty(os.Getenv("LINE_CHANNEL_SECRET"), sec.LineChannelSecret)
	cfg.LineTimeout = parseDuration(fc.Line.Timeout, 20*time.Second)
	if fc.Line.TestMode != nil {
		cfg.TestMode = *fc.Line.TestMode
	}
	if v := os.Getenv("LINE_TEST_MODE"); v != "" {
		cfg.TestMode = ParseFlag(v)
	}
	cfg.TestUserID = strings.TrimSpace(os.Getenv("TEST_LINE_USER_ID"))

	cfg.ForecastURL = firstNonEmpty(fc.Upstreams.ForecastURL, "https://api.open-meteo.com/v1/forecast")
	cfg.ForecastTimeout = parseDuration(fc.Upstreams.ForecastTimeout, 30*time.Second)
	cfg.GeocodingURL = firstNonEmpty(fc.Upstreams.GeocodingURL, "https://geocoding-api.open-meteo.com/v1/search")
	cfg.GeocodingTimeout = parseDuration(fc.Upstreams.GeocodingTimeout, 10*time.Second)

	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = 3
	}
	cfg.RetryBackoffBase = fc.Reliability.RetryBackoffBase
	if cfg.RetryBackoffBase == 0 {
		cfg.RetryBackoffBase = 2
	}
	cfg.RetryBackoffUnit = parseDuration(fc.Reliability.RetryBackoffUnit, time.Second)
	cfg.RateLimitFloor = parseDuration(fc.Reliability.RateLimitFloor, 60*time.Second)
	cfg.BreakerFailureThreshold = fc.Reliability.BreakerFailureThreshold
	if cfg.BreakerFailureThreshold == 0 {
		cfg.BreakerFailureThreshold = 5
	}
	cfg.BreakerOpenTimeout = parseDuration(fc.Reliability.BreakerOpenTimeout, 2*time.Minute)
	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 20
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 50
	}

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 50*time.Second)

	cfg.CacheBackend = strings.ToLower(firstNonEmpty(os.Getenv("CACHE_BACKEND"), fc.Cache.Backend, "in_memory"))
	cfg.CacheTTL = parseDuration(fc.Cache.TTL, 300*time.Second)
	cfg.MemcachedAddrs = firstNonEmpty(os.Getenv("MEMCACHED_ADDRS"), fc.Cache.Memcached.Addrs)
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}
	cfg.RedisAddr = firstNonEmpty(os.Getenv("REDIS_ADDR"), fc.Cache.Redis.Addr)
	cfg.RedisPassword = firstNonEmpty(os.Getenv("REDIS_PASSWORD"), sec.RedisPassword)
	cfg.RedisDB = atoiOr(os.Getenv("REDIS_DB"), fc.Cache.Redis.DB)
	cfg.RedisTimeout = parseDuration(fc.Cache.Redis.Timeout, 500*time.Millisecond)
	cfg.WarmEnabled = fc.Cache.Warm.Enabled
	cfg.WarmInterval = parseDuration(fc.Cache.Warm.Interval, 4*time.Minute)

	cfg.StateIdleTimeout = parseDuration(fc.Conversation.IdleTimeout, 600*time.Second)
	cfg.StateMaxLifetime = parseDuration(fc.Conversation.MaxLifetime, 24*time.Hour)
	cfg.StateSweepInterval = parseDuration(fc.Conversation.SweepInterval, time.Minute)
	cfg.CoordinateTimezone = firstNonEmpty(fc.Conversation.CoordinateTimezone, "Asia/Tokyo")

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.DegradedWindow = parseDuration(fc.Health.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = fc.Health.DegradedErrorPct
	if cfg.DegradedErrorPct == 0 {
		cfg.DegradedErrorPct = 50
	}

	cfg.BroadcastTimezone = firstNonEmpty(fc.Broadcast.Timezone, "Asia/Tokyo")
	cfg.BroadcastHour = 7
	if fc.Broadcast.Hour != nil {
		cfg.BroadcastHour = *fc.Broadcast.Hour
	}
	cfg.BroadcastIncludeWeather = true
	if fc.Broadcast.IncludeWeather != nil {
		cfg.BroadcastIncludeWeather = *fc.Broadcast.IncludeWeather
	}
	cfg.BroadcastSchedule = firstNonEmpty(os.Getenv("BROADCAST_SCHEDULE"), fc.Broadcast.Schedule)
	cfg.BroadcastCities = fc.Broadcast.Cities
	if len(cfg.BroadcastCities) == 0 {
		cfg.BroadcastCities = append([]City(nil), DefaultCities...)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ValidateWebhook checks the settings only the webhook server needs.
func (c *Config) ValidateWebhook() error {
	if err := validate.Var(c.LineChannelSecret, "required"); err != nil {
		return fmt.Errorf("LINE_CHANNEL_SECRET required (set env or config/secrets.yaml line_channel_secret)")
	}
	if c.RequestTimeout <= c.ForecastTimeout {
		return fmt.Errorf("request.timeout (%s) must exceed upstreams.forecast_timeout (%s)", c.RequestTimeout, c.ForecastTimeout)
	}
	return nil
}

// validate runs the struct tags and turns the first failure into a message
// naming the offending field.
func (c *Config) validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			switch fe.Field() {
			case "LineChannelAccessToken":
				return fmt.Errorf("LINE_CHANNEL_ACCESS_TOKEN required (set env or config/secrets.yaml line_channel_access_token)")
			case "TestUserID":
				return fmt.Errorf("TEST_LINE_USER_ID required when LINE_TEST_MODE is on")
			}
			return fmt.Errorf("invalid config %s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("validate config: %w", err)
	}
	for _, name := range []string{c.CoordinateTimezone, c.BroadcastTimezone} {
		if _, err := time.LoadLocation(name); err != nil {
			return fmt.Errorf("unknown timezone %q: %w", name, err)
		}
	}
	return nil
}

// ParseFlag reads true/1/yes (any case) as on; anything else is off.
func ParseFlag(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes":
		return true
	default:
		return false
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

// atoiOr parses s as an int, returning def when s is empty or invalid.
func atoiOr(s string, def int) int {
	if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
		return n
	}
	return def
}
