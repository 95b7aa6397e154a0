package config

import (
	"fmt"
	"rentals/src/types"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const TIME_PARSE_FORMAT = "2006-01-02 15:04:05 -07:00"

type Config struct {
	Env             types.AppEnv `envconfig:"API_ENV" default:"local"`
	Port            string       `envconfig:"PORT" default:"8080"`
	MaintenanceMode bool         `envconfig:"MAINTENANCE_MODE" default:"false"`
	AppHost         string       `envconfig:"APP_HOST"`
	LogDir          string       `envconfig:"LOG_DIR" default:"logs"`
	JWTSecret       string       `envconfig:"JWT_SECRET"`

	DatabaseHost     string `envconfig:"DATABASE_HOST" default:"localhost"`
	DatabasePort     string `envconfig:"DATABASE_PORT" default:"5432"`
	DatabaseUser     string `envconfig:"DATABASE_USER" default:"postgres"`
	DatabasePassword string `envconfig:"DATABASE_PASSWORD"`
	DatabaseName     string `envconfig:"DATABASE_NAME" default:"rentals"`
	DatabaseSSLMode  string `envconfig:"DATABASE_SSLMODE" default:"disable"`
	DatabaseTimezone string `envconfig:"DATABASE_TIMEZONE" default:"UTC"`

	RedisHost        string `envconfig:"REDIS_HOST"`
	KafkaBroker      string `envconfig:"KAFKA_BROKER"`
	NotifyTopic      string `envconfig:"NOTIFY_TOPIC" default:"rentals-events"`
	SNSTopicArn      string `envconfig:"SNS_TOPIC_ARN"`
	StripeSecretKey  string `envconfig:"STRIPE_SECRET_KEY"`
	StripeWebhookKey string `envconfig:"STRIPE_WEBHOOK_SECRET"`
	CatalogURL       string `envconfig:"CATALOG_URL" default:"http://localhost:8081"`
	Currency         string `envconfig:"CURRENCY" default:"usd"`

	CheckInEarlyWindow  time.Duration `envconfig:"CHECKIN_EARLY_WINDOW" default:"0s"`
	DepositHoldValidity time.Duration `envconfig:"DEPOSIT_HOLD_VALIDITY" default:"168h"`
	RequestTTL          time.Duration `envconfig:"REQUEST_TTL" default:"24h"`
	SweepInterval       time.Duration `envconfig:"SWEEP_INTERVAL" default:"5m"`
	PayoutInterval      time.Duration `envconfig:"PAYOUT_INTERVAL" default:"24h"`
	StalledAfter        time.Duration `envconfig:"STALLED_AFTER" default:"30m"`
	PayoutMinimum       types.Money   `envconfig:"PAYOUT_MINIMUM" default:"1000"`
}

func Load() (Config, error) {
	var c Config
	err := envconfig.Process("", &c)
	return c, err
}

func (c Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s", c.DatabaseHost, c.DatabaseUser, c.DatabasePassword, c.DatabaseName, c.DatabasePort, c.DatabaseSSLMode, c.DatabaseTimezone)
}

func (c Config) IsProd() bool {
	return c.Env == types.Production
}
