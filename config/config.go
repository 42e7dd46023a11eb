package config

import (
	"os"
	"time"

	postgres_wrapper "github.com/joripage/execution-gateway/pkg/infra/postgres"
	redis_wrapper "github.com/joripage/execution-gateway/pkg/infra/redis"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type HTTPConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	APIToken       string   `yaml:"api_token"`
	AdminToken     string   `yaml:"admin_token"`
}

type BrokerConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	// Paper runs an in-memory broker instead of the HTTP bridge.
	Paper bool `yaml:"paper"`
}

type NatsConfig struct {
	URL     string `yaml:"url"`
	Stream  string `yaml:"stream"`
	Subject string `yaml:"subject"`
	Durable string `yaml:"durable"`
}

type LimitsConfig struct {
	// PositionLimits maps symbol to the max absolute position allowed.
	PositionLimits       map[string]int64 `yaml:"position_limits"`
	DefaultPositionLimit int64            `yaml:"default_position_limit"`
}

type FatFingerConfig struct {
	MaxOrderQty int64  `yaml:"max_order_qty"`
	MaxNotional string `yaml:"max_notional"`
}

type ReservationConfig struct {
	TTLSeconds int `yaml:"ttl_seconds"`
}

type ReconcileConfig struct {
	IntervalSeconds    int `yaml:"interval_seconds"`
	RunTimeoutSeconds  int `yaml:"run_timeout_seconds"`
	OrphanGraceSeconds int `yaml:"orphan_grace_seconds"`
}

type GatesConfig struct {
	AvailabilityTimeoutMs  int  `yaml:"availability_timeout_ms"`
	RateLimitPerMinute     int  `yaml:"rate_limit_per_minute"`
	CancelUsesTradingGates bool `yaml:"cancel_uses_trading_gates"`
}

type WebhookConfig struct {
	Secret         string `yaml:"secret"`
	MaxSkewSeconds int    `yaml:"max_skew_seconds"`
}

type AppConfig struct {
	ServiceName string                           `yaml:"service_name"`
	HTTP        *HTTPConfig                      `yaml:"http"`
	GatewayDB   *postgres_wrapper.PostgresConfig `yaml:"gateway_db"`
	Redis       *redis_wrapper.RedisConfig       `yaml:"redis"`
	Broker      *BrokerConfig                    `yaml:"broker"`
	Nats        *NatsConfig                      `yaml:"nats"`
	Limits      *LimitsConfig                    `yaml:"limits"`
	FatFinger   *FatFingerConfig                 `yaml:"fat_finger"`
	Reservation *ReservationConfig               `yaml:"reservation"`
	Reconcile   *ReconcileConfig                 `yaml:"reconcile"`
	Gates       *GatesConfig                     `yaml:"gates"`
	Webhook     *WebhookConfig                   `yaml:"webhook"`
}

// Load load config from file and environment variables.
func Load(filePath string) (*AppConfig, error) {
	if len(filePath) == 0 {
		filePath = os.Getenv("CONFIG_FILE")
	}

	fields := []interface{}{
		"func",
		"config.readFromFile",
		"filePath",
		filePath,
	}

	sugar := zap.S().With(fields...)

	sugar.Debug("Load config...")
	zap.S().Debugf("CONFIG_FILE=%v", filePath)

	configBytes, err := os.ReadFile(filePath)
	if err != nil {
		sugar.Error("Failed to load config file")
		return nil, err
	}
	configBytes = []byte(os.ExpandEnv(string(configBytes)))

	cfg := &AppConfig{}

	err = yaml.Unmarshal(configBytes, cfg)
	if err != nil {
		sugar.Error("Failed to parse config file")
		return nil, err
	}

	cfg.normalize()

	zap.S().Debugf("config: %+v", cfg)

	return cfg, nil
}

// normalize fills every numeric threshold with its documented default.
// A zero value in the file always means "use the default", never "unlimited".
func (c *AppConfig) normalize() {
	if c.HTTP == nil {
		c.HTTP = &HTTPConfig{}
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.Broker == nil {
		c.Broker = &BrokerConfig{}
	}
	if c.Broker.TimeoutSeconds <= 0 {
		c.Broker.TimeoutSeconds = 10
	}
	if c.Nats == nil {
		c.Nats = &NatsConfig{}
	}
	if c.Nats.Stream == "" {
		c.Nats.Stream = "ORDERS"
	}
	if c.Nats.Subject == "" {
		c.Nats.Subject = "ORDERS.events"
	}
	if c.Nats.Durable == "" {
		c.Nats.Durable = "order_event_worker"
	}
	if c.Limits == nil {
		c.Limits = &LimitsConfig{}
	}
	if c.Limits.DefaultPositionLimit <= 0 {
		c.Limits.DefaultPositionLimit = 10000
	}
	if c.FatFinger == nil {
		c.FatFinger = &FatFingerConfig{}
	}
	if c.FatFinger.MaxOrderQty <= 0 {
		c.FatFinger.MaxOrderQty = 5000
	}
	if c.FatFinger.MaxNotional == "" {
		c.FatFinger.MaxNotional = "1000000"
	}
	if c.Reservation == nil {
		c.Reservation = &ReservationConfig{}
	}
	if c.Reservation.TTLSeconds <= 0 {
		c.Reservation.TTLSeconds = 30
	}
	if c.Reconcile == nil {
		c.Reconcile = &ReconcileConfig{}
	}
	if c.Reconcile.IntervalSeconds <= 0 {
		c.Reconcile.IntervalSeconds = 30
	}
	if c.Reconcile.RunTimeoutSeconds <= 0 {
		c.Reconcile.RunTimeoutSeconds = 120
	}
	if c.Reconcile.OrphanGraceSeconds <= 0 {
		c.Reconcile.OrphanGraceSeconds = 300
	}
	if c.Gates == nil {
		c.Gates = &GatesConfig{}
	}
	if c.Gates.AvailabilityTimeoutMs <= 0 {
		c.Gates.AvailabilityTimeoutMs = 500
	}
	if c.Gates.RateLimitPerMinute <= 0 {
		c.Gates.RateLimitPerMinute = 600
	}
	if c.Webhook == nil {
		c.Webhook = &WebhookConfig{}
	}
	if c.Webhook.MaxSkewSeconds <= 0 {
		c.Webhook.MaxSkewSeconds = 300
	}
}

// PositionLimit returns the configured limit for a symbol.
func (c *LimitsConfig) PositionLimit(symbol string) int64 {
	if limit, ok := c.PositionLimits[symbol]; ok && limit > 0 {
		return limit
	}
	return c.DefaultPositionLimit
}

// MaxNotionalDecimal parses the configured notional cap.
func (c *FatFingerConfig) MaxNotionalDecimal() decimal.Decimal {
	d, err := decimal.NewFromString(c.MaxNotional)
	if err != nil {
		return decimal.NewFromInt(1000000)
	}
	return d
}

func (c *BrokerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c *ReservationConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

func (c *ReconcileConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

func (c *ReconcileConfig) RunTimeout() time.Duration {
	return time.Duration(c.RunTimeoutSeconds) * time.Second
}

func (c *ReconcileConfig) OrphanGrace() time.Duration {
	return time.Duration(c.OrphanGraceSeconds) * time.Second
}

func (c *WebhookConfig) MaxSkew() time.Duration {
	return time.Duration(c.MaxSkewSeconds) * time.Second
}

func (c *GatesConfig) AvailabilityTimeout() time.Duration {
	return time.Duration(c.AvailabilityTimeoutMs) * time.Millisecond
}
