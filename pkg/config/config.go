package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Gateway    GatewayConfig    `mapstructure:"gateway"`
	GRPC       GRPCConfig       `mapstructure:"grpc"`
	Etcd       EtcdConfig       `mapstructure:"etcd"`
	Redis      RedisConfig      `mapstructure:"redis"`
	MongoDB    MongoDBConfig    `mapstructure:"mongodb"`
	Log        LogConfig        `mapstructure:"log"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Delhivery  DelhiveryConfig  `mapstructure:"delhivery"`
	Shiprocket ShiprocketConfig `mapstructure:"shiprocket"`
	Shipment   ShipmentConfig   `mapstructure:"shipment"`
	Reconcile  ReconcileConfig  `mapstructure:"reconcile"`
	Promotion  PromotionConfig  `mapstructure:"promotion"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
}

type ServerConfig struct {
	Name string `mapstructure:"name"`
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
}

type GatewayConfig struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
}

// GRPCConfig describes how to reach the fulfillment gRPC service when
// discovery has no registered instance.
type GRPCConfig struct {
	Target      string        `mapstructure:"target"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`
}

type EtcdConfig struct {
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	Prefix      string        `mapstructure:"prefix"`
	LeaseTTL    int           `mapstructure:"lease_ttl"`
}

// Enabled reports whether an etcd cluster is configured.
func (c *EtcdConfig) Enabled() bool {
	return len(c.Endpoints) > 0
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type MongoDBConfig struct {
	URI                     string `mapstructure:"uri"`
	Database                string `mapstructure:"database"`
	OrdersCollection        string `mapstructure:"orders_collection"`
	SessionOrdersCollection string `mapstructure:"session_orders_collection"`
	AuditCollection         string `mapstructure:"audit_collection"`
}

type LogConfig struct {
	Level       string   `mapstructure:"level"`
	Encoding    string   `mapstructure:"encoding"`
	OutputPaths []string `mapstructure:"output_paths"`
}

// AuthConfig holds the shared secrets that gate the admin and internal
// entry points. Session handling lives in front of this service.
type AuthConfig struct {
	AdminToken     string `mapstructure:"admin_token"`
	InternalSecret string `mapstructure:"internal_secret"`
	WebhookSecret  string `mapstructure:"webhook_secret"`
}

type DelhiveryConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Token          string        `mapstructure:"token"`
	Timeout        time.Duration `mapstructure:"timeout"`
	PickupLocation string        `mapstructure:"pickup_location"`
	// BreakerTimeout is how long the circuit stays open before probing again.
	BreakerTimeout time.Duration `mapstructure:"breaker_timeout"`
}

type ShiprocketConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BaseURL        string        `mapstructure:"base_url"`
	Email          string        `mapstructure:"email"`
	Password       string        `mapstructure:"password"`
	Timeout        time.Duration `mapstructure:"timeout"`
	PickupLocation string        `mapstructure:"pickup_location"`
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
}

type AddressConfig struct {
	Name    string `mapstructure:"name"`
	Address string `mapstructure:"address"`
	City    string `mapstructure:"city"`
	State   string `mapstructure:"state"`
	Country string `mapstructure:"country"`
	Pin     string `mapstructure:"pin"`
	Phone   string `mapstructure:"phone"`
}

type DimensionsConfig struct {
	LengthCM float64 `mapstructure:"length_cm"`
	WidthCM  float64 `mapstructure:"width_cm"`
	HeightCM float64 `mapstructure:"height_cm"`
}

// ShipmentConfig is the business-fixed part of every carrier shipment.
type ShipmentConfig struct {
	Origin          AddressConfig    `mapstructure:"origin"`
	SellerName      string           `mapstructure:"seller_name"`
	SellerAddress   string           `mapstructure:"seller_address"`
	HSNCode         string           `mapstructure:"hsn_code"`
	UnitWeightGrams float64          `mapstructure:"unit_weight_grams"`
	Dimensions      DimensionsConfig `mapstructure:"dimensions"`
	ShippingMode    string           `mapstructure:"shipping_mode"`
	AddressType     string           `mapstructure:"address_type"`
	LockTTL         time.Duration    `mapstructure:"lock_ttl"`
}

type ReconcileConfig struct {
	Concurrency     int           `mapstructure:"concurrency"`
	RatePerSecond   float64       `mapstructure:"rate_per_second"`
	FreshWindow     time.Duration `mapstructure:"fresh_window"`
	BatchLockTTL    time.Duration `mapstructure:"batch_lock_ttl"`
	WebhookDedupTTL time.Duration `mapstructure:"webhook_dedup_ttl"`
}

type PromotionConfig struct {
	AutoCreateShipment bool `mapstructure:"auto_create_shipment"`
}

type SchedulerConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	RunTimeout   time.Duration `mapstructure:"run_timeout"`
	ElectionName string        `mapstructure:"election_name"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.name", "order-service")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 50052)
	v.SetDefault("gateway.host", "0.0.0.0")
	v.SetDefault("gateway.port", 8080)
	v.SetDefault("grpc.target", "localhost:50052")
	v.SetDefault("grpc.dial_timeout", 5*time.Second)
	v.SetDefault("grpc.call_timeout", 2*time.Minute)
	v.SetDefault("etcd.dial_timeout", 5*time.Second)
	v.SetDefault("etcd.prefix", "/orderdesk/services/")
	v.SetDefault("etcd.lease_ttl", 30)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("mongodb.orders_collection", "orders")
	v.SetDefault("mongodb.session_orders_collection", "sessionstartedorders")
	v.SetDefault("mongodb.audit_collection", "audit_logs")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "json")
	v.SetDefault("log.output_paths", []string{"stdout"})
	v.SetDefault("delhivery.base_url", "https://track.delhivery.com")
	v.SetDefault("delhivery.timeout", 15*time.Second)
	v.SetDefault("delhivery.breaker_timeout", time.Minute)
	v.SetDefault("shiprocket.base_url", "https://apiv2.shiprocket.in")
	v.SetDefault("shiprocket.timeout", 15*time.Second)
	v.SetDefault("shiprocket.token_ttl", 9*24*time.Hour)
	v.SetDefault("shipment.hsn_code", "4202")
	v.SetDefault("shipment.unit_weight_grams", 300)
	v.SetDefault("shipment.dimensions.length_cm", 30)
	v.SetDefault("shipment.dimensions.width_cm", 20)
	v.SetDefault("shipment.dimensions.height_cm", 15)
	v.SetDefault("shipment.shipping_mode", "Surface")
	v.SetDefault("shipment.address_type", "home")
	v.SetDefault("shipment.origin.country", "India")
	v.SetDefault("shipment.lock_ttl", 30*time.Second)
	v.SetDefault("reconcile.concurrency", 4)
	v.SetDefault("reconcile.rate_per_second", 5)
	v.SetDefault("reconcile.fresh_window", time.Hour)
	v.SetDefault("reconcile.batch_lock_ttl", 10*time.Minute)
	v.SetDefault("reconcile.webhook_dedup_ttl", 24*time.Hour)
	v.SetDefault("scheduler.interval", 30*time.Minute)
	v.SetDefault("scheduler.run_timeout", 10*time.Minute)
	v.SetDefault("scheduler.election_name", "reconcile")

	// Secrets have no default but must be known keys for env overrides to
	// reach Unmarshal.
	for _, key := range []string{
		"mongodb.uri", "mongodb.database", "redis.password",
		"auth.admin_token", "auth.internal_secret", "auth.webhook_secret",
		"delhivery.token", "delhivery.pickup_location",
		"shiprocket.email", "shiprocket.password",
	} {
		v.SetDefault(key, "")
	}
}

// Load reads the YAML file at configPath. Every key can be overridden from
// the environment, e.g. ORDERDESK_DELHIVERY_TOKEN.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("ORDERDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// Validate checks the settings the fulfillment core cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if c.MongoDB.URI == "" {
		errs = append(errs, errors.New("mongodb.uri is required"))
	}
	if c.MongoDB.Database == "" {
		errs = append(errs, errors.New("mongodb.database is required"))
	}
	if c.Delhivery.Token == "" {
		errs = append(errs, errors.New("delhivery.token is required"))
	}
	if c.Delhivery.PickupLocation == "" {
		errs = append(errs, errors.New("delhivery.pickup_location is required"))
	}
	if c.Shipment.UnitWeightGrams <= 0 {
		errs = append(errs, errors.New("shipment.unit_weight_grams must be positive"))
	}
	if c.Shiprocket.Enabled && (c.Shiprocket.Email == "" || c.Shiprocket.Password == "") {
		errs = append(errs, errors.New("shiprocket.email and shiprocket.password are required when shiprocket is enabled"))
	}
	return errors.Join(errs...)
}
