package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type DirectoryConfig struct {
	Driver string `mapstructure:"driver"` // realtime | redis
	URL    string `mapstructure:"url"`
	Key    string `mapstructure:"key"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type TURNConfig struct {
	URL        string `mapstructure:"url"`
	Username   string `mapstructure:"username"`
	Credential string `mapstructure:"credential"`
}

type FabricConfig struct {
	SignalURL   string     `mapstructure:"signal_url"`
	STUNServers []string   `mapstructure:"stun_servers"`
	TURN        TURNConfig `mapstructure:"turn"`
}

// ProbeConfig holds the admission tuning delays. Empirical values; they
// narrow the probe race window, they do not eliminate it.
type ProbeConfig struct {
	SyncTimeout     time.Duration `mapstructure:"sync_timeout"`
	SettleDelay     time.Duration `mapstructure:"settle_delay"`
	RecoveryTimeout time.Duration `mapstructure:"recovery_timeout"`
}

type MediaConfig struct {
	AudioPort int `mapstructure:"audio_port"`
	VideoPort int `mapstructure:"video_port"`
}

type Config struct {
	Mode      string          `mapstructure:"mode"`
	Port      int             `mapstructure:"port"`
	Directory DirectoryConfig `mapstructure:"directory"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Fabric    FabricConfig    `mapstructure:"fabric"`
	Probe     ProbeConfig     `mapstructure:"probe"`
	Media     MediaConfig     `mapstructure:"media"`
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
	v.SetDefault("directory.driver", "realtime")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("fabric.stun_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("probe.sync_timeout", "100ms")
	v.SetDefault("probe.settle_delay", "200ms")
	v.SetDefault("probe.recovery_timeout", "200ms")
	v.SetDefault("media.audio_port", 5004)
	v.SetDefault("media.video_port", 5006)

	// endpoints and credentials come from the environment
	_ = v.BindEnv("directory.url", "DIRECTORY_URL")
	_ = v.BindEnv("directory.key", "DIRECTORY_KEY")
	_ = v.BindEnv("directory.driver", "DIRECTORY_DRIVER")
	_ = v.BindEnv("redis.address", "REDIS_ADDRESS")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")
	_ = v.BindEnv("fabric.signal_url", "FABRIC_SIGNAL_URL")
	_ = v.BindEnv("fabric.turn.url", "TURN_URL")
	_ = v.BindEnv("fabric.turn.username", "TURN_USERNAME")
	_ = v.BindEnv("fabric.turn.credential", "TURN_CREDENTIAL")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Directory: %s\n", cfg.Mode, cfg.Port, cfg.Directory.Driver)
	return &cfg, nil
}
