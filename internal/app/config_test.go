package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Addr:         "0.0.0.0:8080",
		APIKeyPepper: "pepper",
		Storage:      StorageConfig{Driver: DriverPostgres, DatabaseURL: "postgres://localhost/shop"},
		Gateway:      GatewayConfig{BaseURL: "https://pay.example", PublicURL: "https://shop.example/api/payment"},
		Events:       EventsConfig{Driver: EventsNone},
	}
}

func TestConfig_Validate(t *testing.T) {
	for _, tt := range []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"Valid", func(*Config) {}, ""},
		{"Mongo", func(c *Config) { c.Storage = StorageConfig{Driver: DriverMongo, MongoURI: "mongodb://localhost"} }, ""},
		{"MissingDatabaseURL", func(c *Config) { c.Storage.DatabaseURL = "" }, "database URL is required"},
		{"MissingMongoURI", func(c *Config) { c.Storage = StorageConfig{Driver: DriverMongo} }, "mongo URI is required"},
		{"UnknownStorage", func(c *Config) { c.Storage.Driver = "redis" }, `unknown storage driver "redis"`},
		{"Kafka", func(c *Config) {
			c.Events = EventsConfig{Driver: EventsKafka, KafkaBrokers: []string{"k:9092"}, KafkaTopic: "t"}
		}, ""},
		{"KafkaNoBrokers", func(c *Config) { c.Events = EventsConfig{Driver: EventsKafka, KafkaTopic: "t"} }, "kafka events need"},
		{"SNSNoTopic", func(c *Config) { c.Events.Driver = EventsSNS }, "sns events need"},
		{"UnknownEvents", func(c *Config) { c.Events.Driver = "nats" }, `unknown events driver "nats"`},
		{"MissingGateway", func(c *Config) { c.Gateway.BaseURL = "" }, "gateway base URL"},
		{"MissingPepper", func(c *Config) { c.APIKeyPepper = "" }, "api key pepper"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestConfig_PlatformDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform/db")
	t.Setenv("PORT", "9000")

	cfg := Config{Addr: "0.0.0.0:8080"}
	cfg.applyPlatformDefaults()
	assert.Equal(t, "postgres://platform/db", cfg.Storage.DatabaseURL)
	assert.Equal(t, "0.0.0.0:9000", cfg.Addr)

	cfg = Config{Addr: "127.0.0.1:7000", Storage: StorageConfig{DatabaseURL: "postgres://explicit/db"}}
	cfg.applyPlatformDefaults()
	assert.Equal(t, "postgres://explicit/db", cfg.Storage.DatabaseURL)
	assert.Equal(t, "127.0.0.1:7000", cfg.Addr)
}
