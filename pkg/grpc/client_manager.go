package grpc

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/example/orderdesk/pkg/config"
	"github.com/example/orderdesk/pkg/discovery"
	"github.com/example/orderdesk/pkg/fulfillment"
)

// ClientManager holds the connection to the fulfillment service.
type ClientManager struct {
	config    *config.Config
	discovery *discovery.ServiceDiscovery
	logger    *zap.Logger

	conn *grpc.ClientConn
}

// NewClientManager creates a client manager. disc may be nil, in which case
// grpc.target is used.
func NewClientManager(cfg *config.Config, logger *zap.Logger, disc *discovery.ServiceDiscovery) *ClientManager {
	return &ClientManager{
		config:    cfg,
		discovery: disc,
		logger:    logger,
	}
}

// Connect resolves the fulfillment service address and prepares the
// connection. The transport connects lazily on the first call.
func (m *ClientManager) Connect(ctx context.Context) error {
	target := m.resolve(ctx)
	m.logger.Info("Connecting to fulfillment service", zap.String("target", target))

	conn, err := grpc.NewClient(target, m.dialOptions()...)
	if err != nil {
		return fmt.Errorf("failed to connect to fulfillment service: %w", err)
	}
	m.conn = conn
	return nil
}

func (m *ClientManager) resolve(ctx context.Context) string {
	target := m.config.GRPC.Target
	if m.discovery == nil {
		return target
	}

	ctx, cancel := context.WithTimeout(ctx, m.dialTimeout())
	defer cancel()

	instances, err := m.discovery.Discover(ctx, m.config.Server.Name)
	if err == nil && len(instances) > 0 {
		target = instances[0].Addr()
		m.logger.Info("Discovered fulfillment service", zap.String("address", target))
	} else {
		m.logger.Info("Using default address for fulfillment service", zap.String("address", target), zap.Error(err))
	}
	return target
}

func (m *ClientManager) dialOptions() []grpc.DialOption {
	return []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
		grpc.WithChainUnaryInterceptor(m.attachSecret),
	}
}

func (m *ClientManager) attachSecret(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
	ctx = metadata.AppendToOutgoingContext(ctx, secretHeader, m.config.Auth.InternalSecret)
	return invoker(ctx, method, req, reply, cc, opts...)
}

func (m *ClientManager) dialTimeout() time.Duration {
	if m.config.GRPC.DialTimeout > 0 {
		return m.config.GRPC.DialTimeout
	}
	return 5 * time.Second
}

func (m *ClientManager) invoke(ctx context.Context, method string, req, reply any) error {
	if m.conn == nil {
		return fmt.Errorf("fulfillment client not connected")
	}
	if _, ok := ctx.Deadline(); !ok && m.config.GRPC.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.GRPC.CallTimeout)
		defer cancel()
	}
	return m.conn.Invoke(ctx, method, req, reply)
}

// CreateShipment asks the service to create the carrier shipment for an
// order. An order that already has a waybill comes back with
// AlreadyShipped set.
func (m *ClientManager) CreateShipment(ctx context.Context, orderID, actor string) (*CreateShipmentResponse, error) {
	out := new(CreateShipmentResponse)
	if err := m.invoke(ctx, createShipmentMethod, &CreateShipmentRequest{OrderID: orderID, Actor: actor}, out); err != nil {
		return nil, err
	}
	return out, nil
}

// SyncTracking reconciles one waybill, or all shipped orders when waybill
// is empty.
func (m *ClientManager) SyncTracking(ctx context.Context, waybill string) (*SyncTrackingResponse, error) {
	out := new(SyncTrackingResponse)
	if err := m.invoke(ctx, syncTrackingMethod, &SyncTrackingRequest{Waybill: waybill}, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Close closes the connection.
func (m *ClientManager) Close() error {
	if m.conn == nil {
		return nil
	}
	if err := m.conn.Close(); err != nil {
		return fmt.Errorf("fulfillment connection close error: %w", err)
	}
	return nil
}

// ReconcileAll runs a full tracking sync on the service.
func (m *ClientManager) ReconcileAll(ctx context.Context) (*fulfillment.Summary, error) {
	out, err := m.SyncTracking(ctx, "")
	if err != nil {
		return nil, err
	}
	return &fulfillment.Summary{Total: out.Total, Updated: out.Updated, Skipped: out.Skipped, Failed: out.Failed}, nil
}
