// Package config loads layered configuration (defaults, optional config
// file, environment variables, CLI flags) the way go-server-3 does with
// viper, fronted by a cobra root command for the flag layer.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	KV        KVConfig        `mapstructure:"kv"`
	Bancho    BanchoConfig    `mapstructure:"bancho"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type AppConfig struct {
	Component string `mapstructure:"component"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type KVConfig struct {
	NATSURL       string        `mapstructure:"nats_url"`
	BucketName    string        `mapstructure:"bucket_name"`
	LockTTL       time.Duration `mapstructure:"lock_ttl"`
	LockRetries   int           `mapstructure:"lock_retries"`
	LockBaseDelay time.Duration `mapstructure:"lock_base_delay"`
}

type BanchoConfig struct {
	ProtocolVersion   int   `mapstructure:"protocol_version"`
	BotUserID         int32 `mapstructure:"bot_user_id"`
	SessionTimeoutSec int64 `mapstructure:"session_timeout_sec"`
	JWTSecret         string `mapstructure:"jwt_secret"`
}

type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Load reads configuration from defaults, an optional config file,
// ODIN-style environment variables (prefixed BANCHO_, dots in a key
// written as underscores, e.g. BANCHO_SERVER_PORT; APP_PORT,
// APP_COMPONENT and SHUTDOWN_HTTP_CONNECTION_TIMEOUT are also read), and
// CLI flags bound onto the supplied flag set (server-port sets
// server.port).
func Load(flags *pflag.FlagSet) (Config, error) {
	v := viper.New()

	v.SetDefault("app.component", "bancho")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 13381)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("kv.nats_url", "nats://127.0.0.1:4222")
	v.SetDefault("kv.bucket_name", "bancho")
	v.SetDefault("kv.lock_ttl", 10*time.Second)
	v.SetDefault("kv.lock_retries", 8)
	v.SetDefault("kv.lock_base_delay", 25*time.Millisecond)

	v.SetDefault("bancho.protocol_version", 19)
	v.SetDefault("bancho.bot_user_id", 999)
	v.SetDefault("bancho.session_timeout_sec", 300)
	v.SetDefault("bancho.jwt_secret", "change-me")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen_addr", ":9095")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)

	v.SetConfigName("bancho")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("BANCHO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("server.port", "APP_PORT")
	_ = v.BindEnv("app.component", "APP_COMPONENT")
	_ = v.BindEnv("server.shutdown_timeout", "SHUTDOWN_HTTP_CONNECTION_TIMEOUT")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
		flags.VisitAll(func(f *pflag.Flag) {
			_ = v.BindPFlag(strings.Replace(f.Name, "-", ".", 1), f)
		})
	}

	_ = v.ReadInConfig()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config unmarshal: %w", err)
	}
	return cfg, nil
}
