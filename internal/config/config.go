package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type AuthConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
}

type CORSConfig struct {
	Origins []string
}

type StoreConfig struct {
	// Driver is one of memory, sqlite, postgres, redis or file.
	Driver        string
	SQLitePath    string
	PostgresDSN   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	FileDir       string
}

type MigrationsConfig struct {
	Dir string
}

type TrackerConfig struct {
	Timezone          string
	ClockOutOpenBreak string
}

type ReminderConfig struct {
	EyeCareTick          time.Duration
	LongSessionTick      time.Duration
	Countdown            time.Duration
	LongSessionThreshold time.Duration
	LongSessionRepeat    bool
}

type NotifyConfig struct {
	// OS is the OS notification sink: log, redis or none.
	OS           string
	Permission   string
	RedisChannel string
	QueueSize    int
}

type AppConfig struct {
	Environment string
	HTTP        HTTPConfig
	Auth        AuthConfig
	CORS        CORSConfig
	Store       StoreConfig
	Migrations  MigrationsConfig
	Tracker     TrackerConfig
	Reminder    ReminderConfig
	Notify      NotifyConfig
}

// Location resolves the timezone used for session date keys.
func (c *AppConfig) Location() (*time.Location, error) {
	if c.Tracker.Timezone == "" || c.Tracker.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Tracker.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Tracker.Timezone, err)
	}
	return loc, nil
}

func Load() (*AppConfig, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("TIMETRACKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	return decode(v)
}

func decode(v *viper.Viper) (*AppConfig, error) {
	var cfg AppConfig
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) validate() error {
	switch c.Store.Driver {
	case "memory", "sqlite", "postgres", "redis", "file":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	switch c.Tracker.ClockOutOpenBreak {
	case "autoclose", "reject":
	default:
		return fmt.Errorf("unknown clock-out open break policy %q", c.Tracker.ClockOutOpenBreak)
	}
	if c.Store.Driver == "postgres" && c.Store.PostgresDSN == "" {
		return fmt.Errorf("store.postgresdsn is required for the postgres driver")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.readtimeout", "10s")
	v.SetDefault("http.writetimeout", "0s") // SSE streams stay open
	v.SetDefault("http.idletimeout", "60s")

	v.SetDefault("auth.jwtsecret", "change-this-secret")
	v.SetDefault("auth.tokenttl", "72h")

	v.SetDefault("cors.origins", []string{"http://localhost:5173", "http://127.0.0.1:5173"})

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlitepath", "./data/timetracker.db")
	v.SetDefault("store.postgresdsn", "")
	v.SetDefault("store.redisaddr", "127.0.0.1:6379")
	v.SetDefault("store.redispassword", "")
	v.SetDefault("store.redisdb", 0)
	v.SetDefault("store.filedir", "./data/records")

	v.SetDefault("migrations.dir", "./migrations")

	v.SetDefault("tracker.timezone", "Local")
	v.SetDefault("tracker.clockoutopenbreak", "autoclose")

	v.SetDefault("reminder.eyecaretick", "60s")
	v.SetDefault("reminder.longsessiontick", "1h")
	v.SetDefault("reminder.countdown", "20s")
	v.SetDefault("reminder.longsessionthreshold", "10h")
	v.SetDefault("reminder.longsessionrepeat", false)

	v.SetDefault("notify.os", "log")
	v.SetDefault("notify.permission", "granted")
	v.SetDefault("notify.redischannel", "timetracker:notifications")
	v.SetDefault("notify.queuesize", 64)
}
