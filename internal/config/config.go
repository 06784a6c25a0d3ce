package config

import (
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Stream  StreamConfig  `mapstructure:"stream"`
	Audio   AudioConfig   `mapstructure:"audio"`
	Log     LogConfig     `mapstructure:"log"`
	Storage StorageConfig `mapstructure:"storage"`
}

// ServerConfig points the coordinator at an ORBIT backend.
type ServerConfig struct {
	URL            string        `mapstructure:"url"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type StreamConfig struct {
	// FlushInterval bounds how often coalesced text is applied to
	// conversation state. Tens of milliseconds keeps rendering cheap
	// without visible lag.
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

type AudioConfig struct {
	Enabled             bool   `mapstructure:"enabled"`
	TTSVoice            string `mapstructure:"tts_voice"`
	RecognitionLanguage string `mapstructure:"recognition_language"`
	// PlayerCommand is the external process clips are piped to; the
	// clip file path is appended as the last argument.
	PlayerCommand string `mapstructure:"player_command"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type StorageConfig struct {
	Type      string        `mapstructure:"type"` // memory, disk or redis
	DataDir   string        `mapstructure:"data_dir"`
	RedisAddr string        `mapstructure:"redis_addr"`
	RedisDB   int           `mapstructure:"redis_db"`
	RedisTTL  time.Duration `mapstructure:"redis_ttl"`
}

var cfg *Config

func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	viper.AutomaticEnv()
	viper.SetEnvPrefix("ORBIT")

	viper.SetDefault("server.url", "http://localhost:3000")
	viper.SetDefault("server.request_timeout", 60*time.Second)
	viper.SetDefault("stream.flush_interval", 48*time.Millisecond)
	viper.SetDefault("audio.player_command", "ffplay -nodisp -autoexit -loglevel quiet")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")
	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.data_dir", "./data")

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults and env cover it.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if !os.IsNotExist(err) {
				return nil, err
			}
		}
	}

	cfg = &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	// Config file wins; fall back to the conventional env var.
	if cfg.Server.APIKey == "" {
		if apiKey := os.Getenv("ORBIT_API_KEY"); apiKey != "" {
			cfg.Server.APIKey = apiKey
		}
	}

	return cfg, nil
}

func Get() *Config {
	return cfg
}
