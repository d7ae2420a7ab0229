// Package config loads gateway configuration from the environment. Loading is
// explicit: libraries in this module never read the environment themselves,
// they take configuration structs.
package config

import (
	"time"

	"github.com/caarlos0/env/v6"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/openx402/x402-go/types"
)

// Config holds the gateway process configuration.
type Config struct {
	Addr     string `env:"X402_ADDR" envDefault:":8080"`
	LogLevel string `env:"X402_LOG_LEVEL" envDefault:"info"`

	PaymentAddress string        `env:"X402_PAYMENT_ADDRESS,required,notEmpty"`
	AssetAddress   string        `env:"X402_ASSET_ADDRESS,required,notEmpty"`
	Network        types.Network `env:"X402_NETWORK" envDefault:"solana-devnet"`
	RPCURL         string        `env:"X402_RPC_URL"`
	Price          string        `env:"X402_PRICE" envDefault:"0.01"`

	RequestTTL time.Duration `env:"X402_REQUEST_TTL" envDefault:"300s"`
	ReplayTTL  time.Duration `env:"X402_REPLAY_TTL" envDefault:"720h"`
	AutoVerify bool          `env:"X402_AUTO_VERIFY" envDefault:"true"`

	// Replay guard backend. Redis wins over Bolt when both are set; with
	// neither, an in-process guard is used and replay state does not survive
	// restarts.
	RedisAddr string `env:"X402_REDIS_ADDR"`
	BoltPath  string `env:"X402_BOLT_PATH"`

	// Management endpoint credentials. Exactly one may be set.
	StaticAPIKey string `env:"X402_STATIC_API_KEY"`
	DatabaseURL  string `env:"X402_DATABASE_URL"`
}

// Load parses the configuration from the environment.
func Load() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, types.NewConfigurationError(err.Error())
	}
	if c.StaticAPIKey != "" && c.DatabaseURL != "" {
		return Config{}, types.NewConfigurationError("both static API key and database URL are set")
	}
	if c.RPCURL == "" {
		c.RPCURL = c.Network.DefaultRPCURL()
	}
	if c.RPCURL == "" {
		return Config{}, types.NewConfigurationError("no RPC URL configured and network " + string(c.Network) + " has no default endpoint")
	}
	return c, nil
}

// Logger builds the process logger for the given level. Unknown levels fall
// back to info.
func Logger(level string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
