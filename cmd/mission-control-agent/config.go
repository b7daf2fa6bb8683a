package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Log    LogConfig    `mapstructure:"log"`
	Server ServerConfig `mapstructure:"server"`
	Agent  AgentConfig  `mapstructure:"agent"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type ServerConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type AgentConfig struct {
	Name      string        `mapstructure:"name"`
	Token     string        `mapstructure:"token"`
	TokenFile string        `mapstructure:"token_file"`
	Status    string        `mapstructure:"status"`
	Interval  time.Duration `mapstructure:"interval"`
}

var config Config

func InitConfig() error {
	_ = godotenv.Load()

	viper.SetConfigName("application")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./cmd/mission-control-agent")
	viper.SetConfigType("yaml")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("log.level", "INFO")
	viper.SetDefault("server.url", "http://localhost:8000")
	viper.SetDefault("server.timeout", 10*time.Second)
	viper.SetDefault("agent.token_file", ".agent-token")
	viper.SetDefault("agent.interval", time.Minute)
	_ = viper.BindEnv("agent.name")
	_ = viper.BindEnv("agent.token")
	_ = viper.BindEnv("agent.status")

	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := viper.Unmarshal(&config); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}

	initLogger(config.Log.Level)

	if strings.ToUpper(config.Log.Level) == "DEBUG" {
		printable := config
		if printable.Agent.Token != "" {
			printable.Agent.Token = "********"
		}
		configJSON, err := json.MarshalIndent(printable, "", "  ")
		if err == nil {
			fmt.Println("Config loaded:")
			fmt.Println(string(configJSON))
		}
	}
	return nil
}

func initLogger(logLevel string) {
	var level slog.Level
	switch strings.ToUpper(logLevel) {
	case "ERROR":
		level = slog.LevelError
	case "WARNING":
		level = slog.LevelWarn
	case "DEBUG":
		level = slog.LevelDebug
	default:
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}

// agentToken prefers the configured token over the token file.
func agentToken() (string, error) {
	if config.Agent.Token != "" {
		return config.Agent.Token, nil
	}
	raw, err := os.ReadFile(config.Agent.TokenFile)
	if err != nil {
		return "", fmt.Errorf("no agent token configured and %s is unreadable: %w", config.Agent.TokenFile, err)
	}
	return strings.TrimSpace(string(raw)), nil
}
