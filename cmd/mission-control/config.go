package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/TomBuge/openclaw-mission-control/internal/agents"
	"github.com/TomBuge/openclaw-mission-control/internal/api/http"
	"github.com/TomBuge/openclaw-mission-control/internal/db"
	grpcserver "github.com/TomBuge/openclaw-mission-control/internal/grpc/server"
	"github.com/TomBuge/openclaw-mission-control/internal/notify"
	"github.com/TomBuge/openclaw-mission-control/internal/openclaw"
)

const redacted = "********"

type Config struct {
	Log      LogConfig           `mapstructure:"log"`
	Http     http.Config         `mapstructure:"http"`
	Grpc     grpcserver.Config   `mapstructure:"grpc"`
	DB       db.Config           `mapstructure:"db"`
	OpenClaw OpenClawConfig      `mapstructure:"openclaw"`
	Liveness LivenessConfig      `mapstructure:"liveness"`
	Matrix   notify.MatrixConfig `mapstructure:"matrix"`
}

type OpenClawConfig struct {
	URL     string        `mapstructure:"url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

func (c OpenClawConfig) Gateway() openclaw.Config {
	return openclaw.Config{URL: c.URL, Token: c.Token}
}

type LivenessConfig struct {
	OfflineAfter time.Duration `mapstructure:"offline_after"`
}

var config Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", LOG_LEVEL_INFO)
	v.SetDefault("http.port", 8000)
	v.SetDefault("grpc.enabled", true)
	v.SetDefault("grpc.port", 9090)
	v.SetDefault("db.driver", db.DriverSQLite)
	v.SetDefault("db.path", "mission-control.db")
	v.SetDefault("db.schema", "public")
	v.SetDefault("openclaw.timeout", 10*time.Second)
	v.SetDefault("liveness.offline_after", agents.DefaultOfflineAfter)
}

// loadConfig reads application.yaml (optional) and the environment into a Config.
func loadConfig(v *viper.Viper, configFile string) (Config, error) {
	var cfg Config

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("application")
		v.AddConfigPath(".")
		v.AddConfigPath("./cmd/mission-control")
		v.SetConfigType("yaml")
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	for _, key := range []string{
		"http.admin_api_key", "http.jwt_secret",
		"db.url", "openclaw.url", "openclaw.token",
		"matrix.homeserver", "matrix.user_id", "matrix.access_token", "matrix.room_id",
	} {
		_ = v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound || configFile != "" {
			return cfg, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

func InitConfig(configFile string) error {
	_ = godotenv.Load()

	cfg, err := loadConfig(viper.GetViper(), configFile)
	if err != nil {
		return err
	}
	config = cfg

	initLogger(config.Log.Level)

	if strings.ToUpper(config.Log.Level) == LOG_LEVEL_DEBUG {
		configJSON, err := json.MarshalIndent(config.Redacted(), "", "  ")
		if err == nil {
			fmt.Println("Config loaded:")
			fmt.Println(string(configJSON))
		}
	}
	return nil
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	mask := func(s *string) {
		if *s != "" {
			*s = redacted
		}
	}
	mask(&c.Http.AdminAPIKey)
	mask(&c.Http.JWTSecret)
	mask(&c.DB.Url)
	mask(&c.OpenClaw.Token)
	mask(&c.Matrix.AccessToken)
	return c
}
