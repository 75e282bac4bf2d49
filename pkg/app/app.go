// Package app wires the stores, carrier clients and fulfillment service
// for the processes under cmd.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/example/orderdesk/pkg/carrier/delhivery"
	"github.com/example/orderdesk/pkg/carrier/shiprocket"
	"github.com/example/orderdesk/pkg/config"
	"github.com/example/orderdesk/pkg/discovery"
	"github.com/example/orderdesk/pkg/fulfillment"
	"github.com/example/orderdesk/pkg/logger"
	"github.com/example/orderdesk/pkg/repository"
)

// ConfigPath is read from ORDERDESK_CONFIG, defaulting to the repo config.
func ConfigPath() string {
	if p := os.Getenv("ORDERDESK_CONFIG"); p != "" {
		return p
	}
	return "config/config.yaml"
}

// Bootstrap loads the config and builds the logger every process starts
// with.
func Bootstrap() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(ConfigPath())
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	Mongo   *repository.MongoRepository
	Redis   *repository.RedisRepository
	Service *fulfillment.Service
}

// New connects to Mongo and Redis and assembles the fulfillment service.
// Redis being down is logged, not fatal: locks and dedup degrade to the
// Mongo conditional writes.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	mongoRepo, err := repository.NewMongoRepository(&cfg.MongoDB)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := mongoRepo.Ping(ctx); err != nil {
		_ = mongoRepo.Close(ctx)
		return nil, fmt.Errorf("mongodb ping failed: %w", err)
	}
	log.Info("MongoDB connected successfully", zap.String("database", cfg.MongoDB.Database))

	redisRepo := repository.NewRedisRepository(&cfg.Redis)
	if err := redisRepo.Ping(ctx); err != nil {
		log.Warn("Redis connection failed", zap.Error(err))
	} else {
		log.Info("Redis connected successfully")
	}

	deps := fulfillment.Deps{
		Orders:   mongoRepo.Orders(),
		Sessions: mongoRepo.SessionOrders(),
		Carrier:  delhivery.NewClient(&cfg.Delhivery, log.Named("delhivery")),
		Locks:    redisRepo,
		Dedup:    redisRepo,
		Audit:    mongoRepo,
	}
	if cfg.Shiprocket.Enabled {
		deps.Registrar = shiprocket.NewClient(&cfg.Shiprocket, &cfg.Shipment, redisRepo, log.Named("shiprocket"))
	}

	return &App{
		Config:  cfg,
		Logger:  log,
		Mongo:   mongoRepo,
		Redis:   redisRepo,
		Service: fulfillment.NewService(deps, cfg, log.Named("fulfillment")),
	}, nil
}

func (a *App) Close(ctx context.Context) error {
	return errors.Join(a.Mongo.Close(ctx), a.Redis.Close())
}

// Discovery connects to etcd when endpoints are configured. It returns nil
// otherwise, or when the cluster cannot be reached.
func Discovery(cfg *config.Config, log *zap.Logger) *discovery.ServiceDiscovery {
	if !cfg.Etcd.Enabled() {
		return nil
	}
	sd, err := discovery.NewServiceDiscovery(&cfg.Etcd)
	if err != nil {
		log.Warn("Failed to connect to etcd, continuing without service discovery", zap.Error(err))
		return nil
	}
	return sd
}

// Instance describes this process for registration. A wildcard listen host
// is replaced by the machine's hostname so peers can dial it.
func Instance(name, host string, port int) *discovery.ServiceInstance {
	if host == "" || host == "0.0.0.0" || host == "::" {
		if h, err := os.Hostname(); err == nil {
			host = h
		}
	}
	return &discovery.ServiceInstance{Name: name, Host: host, Port: port}
}
