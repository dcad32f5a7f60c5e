package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

// Event drivers.
const (
	EventsNone  = "none"
	EventsKafka = "kafka"
	EventsSNS   = "sns"
)

// Config holds the complete application configuration, loadable from
// environment variables (SHOP_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (SHOP_API_KEY_PEPPER)" flag:"api-key-pepper"`
	Storage      StorageConfig
	Gateway      GatewayConfig
	Redirect     RedirectConfig
	Events       EventsConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// StorageConfig selects and addresses the order store.
type StorageConfig struct {
	Driver        string `default:"postgres" usage:"Storage driver: postgres or mongo"`
	DatabaseURL   string `usage:"PostgreSQL connection URL (SHOP_STORAGE_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	MongoURI      string `usage:"MongoDB connection URI" flag:"mongo-uri"`
	MongoDatabase string `default:"shop" usage:"MongoDB database name" flag:"mongo-database"`
}

// GatewayConfig configures the payment gateway client.
type GatewayConfig struct {
	BaseURL string        `usage:"Payment gateway API base URL" flag:"gateway-url"`
	APIKey  string        `usage:"Payment gateway API key" flag:"gateway-api-key"`
	Timeout time.Duration `default:"15s" usage:"Payment gateway request timeout"`
	// PublicURL is where the gateway sends customers back, e.g.
	// https://shop.example.com/api/payment.
	PublicURL string `usage:"Public base URL of the payment callbacks" flag:"public-url"`
}

// RedirectConfig holds the customer-facing pages callbacks redirect to.
type RedirectConfig struct {
	CheckoutURL  string `default:"/checkout" usage:"Checkout page for failed or cancelled payments"`
	DashboardURL string `default:"/dashboard" usage:"Dashboard page for successful payments"`
}

// EventsConfig selects the settlement event publisher.
type EventsConfig struct {
	Driver       string   `default:"none" usage:"Event driver: none, kafka or sns"`
	KafkaBrokers []string `usage:"Kafka broker addresses"`
	KafkaTopic   string   `default:"orders.settled" usage:"Kafka topic for settlement events"`
	SNSTopicARN  string   `usage:"SNS topic ARN for settlement events" flag:"sns-topic-arn"`
}

// RateLimitConfig controls the per-client token bucket.
type RateLimitConfig struct {
	Rate  float64 `default:"5" usage:"Sustained requests per second per client"`
	Burst int     `default:"20" usage:"Burst size per client"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "SHOP",
		Files:     []string{"config.yaml", "/etc/shop/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that every selected driver has what it needs.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverPostgres:
		if c.Storage.DatabaseURL == "" {
			return errors.New("database URL is required: set SHOP_STORAGE_DATABASE_URL or DATABASE_URL")
		}
	case DriverMongo:
		if c.Storage.MongoURI == "" {
			return errors.New("mongo URI is required: set SHOP_STORAGE_MONGO_URI")
		}
	default:
		return errors.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	switch c.Events.Driver {
	case EventsNone, "":
	case EventsKafka:
		if len(c.Events.KafkaBrokers) == 0 || c.Events.KafkaTopic == "" {
			return errors.New("kafka events need brokers and a topic")
		}
	case EventsSNS:
		if c.Events.SNSTopicARN == "" {
			return errors.New("sns events need a topic ARN")
		}
	default:
		return errors.Errorf("unknown events driver %q", c.Events.Driver)
	}

	if c.Gateway.BaseURL == "" || c.Gateway.PublicURL == "" {
		return errors.New("gateway base URL and public callback URL are required")
	}
	if c.APIKeyPepper == "" {
		return errors.New("api key pepper is required: set SHOP_API_KEY_PEPPER")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's SHOP_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.Storage.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.Storage.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
