package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type RoomDefaults struct {
	MaxParticipants  int  `mapstructure:"max_participants"`
	AllowScreenShare bool `mapstructure:"allow_screen_share"`
	AllowChat        bool `mapstructure:"allow_chat"`
	RecordingEnabled bool `mapstructure:"recording_enabled"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	Secret     string        `mapstructure:"secret"`
	AuthSecret string        `mapstructure:"auth_secret"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	ReadLimit  int64         `mapstructure:"read_limit"`

	Redis        RedisConfig   `mapstructure:"redis"`
	DirectoryTTL time.Duration `mapstructure:"directory_ttl"`
	ChatHistory  int           `mapstructure:"chat_history"`

	Room RoomDefaults `mapstructure:"room"`

	ICEServers []string `mapstructure:"ice_servers"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("directory_ttl", "5m")
	v.SetDefault("chat_history", 200)
	v.SetDefault("room.max_participants", 16)
	v.SetDefault("room.allow_screen_share", true)
	v.SetDefault("room.allow_chat", true)
	v.SetDefault("room.recording_enabled", false)
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
