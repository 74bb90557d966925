package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (PYRO_ prefix) or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (PYRO_DATABASE_URL or DATABASE_URL)"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (PYRO_API_KEY_PEPPER)"`
	// AutoAdvance moves pending orders to delivered once their payment is approved.
	AutoAdvance bool `default:"false" usage:"Mark orders delivered when the payment is approved"`
	Redis       RedisConfig
	Gateway     GatewayConfig
	Webhook     WebhookConfig
	Discount    DiscountConfig
	Graceful    GracefulConfig
}

// RedisConfig locates the idempotency cache. An empty Addr disables it.
type RedisConfig struct {
	Addr     string        `default:"" usage:"Redis address (host:port)"`
	Password string        `default:"" usage:"Redis password"`
	DB       int           `default:"0" usage:"Redis database number"`
	TTL      time.Duration `default:"24h" usage:"How long initiated payments can be replayed"`
}

// GatewayConfig points at the payment processor.
type GatewayConfig struct {
	BaseURL    string        `default:"https://sandbox.wompi.co" usage:"Payment gateway base URL"`
	PrivateKey string        `default:"" usage:"Payment gateway private key"`
	Timeout    time.Duration `default:"15s" usage:"Timeout of a single gateway call"`
}

// WebhookConfig controls signature verification of processor events.
type WebhookConfig struct {
	Secret    string        `default:"" usage:"Shared secret of webhook signatures"`
	Tolerance time.Duration `default:"5m" usage:"Accepted signature age, 0 disables the check"`
}

// DiscountConfig controls discount redemption.
type DiscountConfig struct {
	SingleUsePerOrder bool          `default:"false" usage:"Reject a code already applied to the order"`
	ReconcileInterval time.Duration `default:"1m" usage:"How often stuck discount applications are settled, 0 disables"`
	ReconcileAge      time.Duration `default:"5m" usage:"Minimum age of a pending application before it is settled"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "PYRO",
		SkipFlags: true,
		Files:     []string{"config.yaml", "/etc/pyro/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set PYRO_DATABASE_URL or DATABASE_URL")
	}
	if c.Gateway.Timeout <= 0 {
		return errors.New("gateway timeout must be positive")
	}
	if c.Webhook.Tolerance < 0 {
		return errors.New("webhook tolerance must not be negative")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's PYRO_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
