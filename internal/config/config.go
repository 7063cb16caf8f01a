package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds every parameter of the engine process.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Log      LogConfig      `yaml:"log"`
	Engine   EngineConfig   `yaml:"engine"`
	Cache    CacheConfig    `yaml:"cache"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int32  `yaml:"max_conns"`
}

// DSN renders the connection string understood by pgxpool.ParseConfig.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s pool_max_conns=%d",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode, d.MaxConns)
}

type RabbitMQConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	VHost    string `yaml:"vhost"`
	UseTLS   bool   `yaml:"use_tls"`
	// EventsExchange receives allocation events, routed by event type.
	EventsExchange string `yaml:"events_exchange"`
	// CacheExchange fans cache invalidations out to every engine process.
	CacheExchange string `yaml:"cache_exchange"`
}

// Enabled reports whether a broker is configured at all.
func (r RabbitMQConfig) Enabled() bool { return r.Host != "" }

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// EngineConfig carries the global defaults. Per-restaurant and per-network
// overrides live in the data store.
type EngineConfig struct {
	MinBreakMinutes                float64             `yaml:"min_break_minutes"`
	MaxHoursPerDay                 float64             `yaml:"max_hours_per_day"`
	MaxHoursPerWeek                float64             `yaml:"max_hours_per_week"`
	CommuteSpeedMPH                float64             `yaml:"commute_speed_mph"`
	CommuteBufferMinutes           float64             `yaml:"commute_buffer_minutes"`
	SwapExpiryHours                float64             `yaml:"swap_expiry_hours"`
	DefaultAutoApproveThreshold    float64             `yaml:"default_auto_approve_threshold"`
	DefaultVisibilityDelayHours    float64             `yaml:"default_visibility_delay_hours"`
	DefaultMaxNetworkDistanceMiles float64             `yaml:"default_max_network_distance_miles"`
	CandidateLimit                 int                 `yaml:"candidate_limit"`
	AutoConfirmSameRestaurant      bool                `yaml:"auto_confirm_same_restaurant"`
	AutoConfirmCrossRestaurant     bool                `yaml:"auto_confirm_cross_restaurant"`
	PositionCertifications         map[string][]string `yaml:"position_certifications"`
}

type CacheConfig struct {
	TTLSeconds int `yaml:"ttl_seconds"`
}

// Default returns the configuration used when a key is absent from the file.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Port: 5432, SSLMode: "disable", MaxConns: 10},
		RabbitMQ: RabbitMQConfig{
			Port:           5672,
			VHost:          "/",
			EventsExchange: "allocation_topic",
			CacheExchange:  "shift_cache_fanout",
		},
		Log: LogConfig{Level: "info"},
		Engine: EngineConfig{
			MinBreakMinutes:                30,
			MaxHoursPerDay:                 12,
			MaxHoursPerWeek:                50,
			CommuteSpeedMPH:                30,
			CommuteBufferMinutes:           5,
			SwapExpiryHours:                48,
			DefaultAutoApproveThreshold:    4.0,
			DefaultVisibilityDelayHours:    24,
			DefaultMaxNetworkDistanceMiles: 25,
			CandidateLimit:                 10,
			AutoConfirmSameRestaurant:      true,
			AutoConfirmCrossRestaurant:     false,
			PositionCertifications: map[string][]string{
				"bartender": {"ALCOHOL_SERVICE"},
				"line_cook": {"FOOD_HANDLER"},
				"prep_cook": {"FOOD_HANDLER"},
			},
		},
		Cache: CacheConfig{TTLSeconds: 30},
	}
}

// LoadConfig reads the YAML file at path on top of Default and validates it.
func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: couldn't open the configuration file: %w", err)
	}
	return Parse(b)
}

func Parse(b []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.Host == "" || c.Database.User == "" || c.Database.Database == "" {
		errs = append(errs, errors.New("database config incomplete: host, user and database are required"))
	}
	if c.RabbitMQ.Enabled() && c.RabbitMQ.User == "" {
		errs = append(errs, errors.New("rabbitmq config incomplete: user is required"))
	}
	e := c.Engine
	for _, f := range []struct {
		key string
		v   float64
	}{
		{"max_hours_per_day", e.MaxHoursPerDay},
		{"max_hours_per_week", e.MaxHoursPerWeek},
		{"commute_speed_mph", e.CommuteSpeedMPH},
		{"swap_expiry_hours", e.SwapExpiryHours},
		{"default_max_network_distance_miles", e.DefaultMaxNetworkDistanceMiles},
	} {
		if f.v <= 0 {
			errs = append(errs, fmt.Errorf("engine.%s must be positive", f.key))
		}
	}
	if e.MinBreakMinutes < 0 || e.CommuteBufferMinutes < 0 || e.DefaultVisibilityDelayHours < 0 {
		errs = append(errs, errors.New("engine: break, buffer and visibility delay must not be negative"))
	}
	if e.DefaultAutoApproveThreshold < 0 || e.DefaultAutoApproveThreshold > 5 {
		errs = append(errs, errors.New("engine.default_auto_approve_threshold must be within 0..5"))
	}
	if e.CandidateLimit <= 0 {
		errs = append(errs, errors.New("engine.candidate_limit must be positive"))
	}
	if c.Cache.TTLSeconds < 0 {
		errs = append(errs, errors.New("cache.ttl_seconds must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
