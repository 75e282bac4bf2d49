package grpc

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/example/orderdesk/pkg/config"
	"github.com/example/orderdesk/pkg/fulfillment"
)

// Fulfillment is the part of the fulfillment service exposed over gRPC.
type Fulfillment interface {
	CreateShipment(ctx context.Context, caller fulfillment.Caller, orderID string) (*fulfillment.ShipmentOutcome, error)
	ReconcileAll(ctx context.Context) (*fulfillment.Summary, error)
	ReconcileWaybill(ctx context.Context, waybill string) (*fulfillment.Summary, error)
}

// FulfillmentServer serves internal callers (checkout workers, the
// reconcile scheduler) that authenticate with the shared secret.
type FulfillmentServer struct {
	svc    Fulfillment
	secret string
	config *config.ServerConfig
	logger *zap.Logger
	server *grpc.Server
	health *health.Server
}

func NewFulfillmentServer(svc Fulfillment, cfg *config.Config, logger *zap.Logger) *FulfillmentServer {
	s := &FulfillmentServer{
		svc:    svc,
		secret: cfg.Auth.InternalSecret,
		config: &cfg.Server,
		logger: logger,
		health: health.NewServer(),
	}
	s.server = grpc.NewServer(grpc.ChainUnaryInterceptor(s.logCalls, s.authenticate))
	RegisterFulfillmentServiceServer(s.server, s)
	healthpb.RegisterHealthServer(s.server, s.health)
	reflection.Register(s.server)
	s.health.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	return s
}

func (s *FulfillmentServer) CreateShipment(ctx context.Context, req *CreateShipmentRequest) (*CreateShipmentResponse, error) {
	caller := fulfillment.Caller{Trigger: fulfillment.TriggerInternal, Actor: req.Actor}
	out, err := s.svc.CreateShipment(ctx, caller, req.OrderID)
	if err != nil {
		var ferr *fulfillment.Error
		if errors.As(err, &ferr) && ferr.Kind == fulfillment.KindConflict && ferr.Waybill != "" {
			return &CreateShipmentResponse{
				OrderID:        req.OrderID,
				Waybill:        ferr.Waybill,
				AlreadyShipped: true,
			}, nil
		}
		return nil, s.fail(err)
	}
	return &CreateShipmentResponse{
		OrderID:     out.OrderID,
		Waybill:     out.Waybill,
		OrderStatus: string(out.Status),
	}, nil
}

func (s *FulfillmentServer) SyncTracking(ctx context.Context, req *SyncTrackingRequest) (*SyncTrackingResponse, error) {
	var (
		summary *fulfillment.Summary
		err     error
	)
	if req.Waybill == "" {
		summary, err = s.svc.ReconcileAll(ctx)
	} else {
		summary, err = s.svc.ReconcileWaybill(ctx, req.Waybill)
	}
	if err != nil {
		return nil, s.fail(err)
	}
	return &SyncTrackingResponse{
		Total:   summary.Total,
		Updated: summary.Updated,
		Skipped: summary.Skipped,
		Failed:  summary.Failed,
	}, nil
}

// authenticate rejects fulfillment calls without the shared secret. An
// unset secret rejects everything. Health checks stay open.
func (s *FulfillmentServer) authenticate(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if !strings.HasPrefix(info.FullMethod, "/"+serviceName+"/") {
		return handler(ctx, req)
	}
	md, _ := metadata.FromIncomingContext(ctx)
	values := md.Get(secretHeader)
	if s.secret == "" || len(values) == 0 ||
		subtle.ConstantTimeCompare([]byte(values[0]), []byte(s.secret)) != 1 {
		return nil, status.Error(codes.Unauthenticated, "invalid internal secret")
	}
	return handler(ctx, req)
}

func (s *FulfillmentServer) logCalls(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	resp, err := handler(ctx, req)
	if err != nil {
		s.logger.Warn("gRPC call failed",
			zap.String("method", info.FullMethod),
			zap.Stringer("code", status.Code(err)),
			zap.Error(err),
		)
	}
	return resp, err
}

// fail logs internal errors before their text is masked for the caller.
func (s *FulfillmentServer) fail(err error) error {
	if fulfillment.KindOf(err) == fulfillment.KindInternal {
		s.logger.Error("Fulfillment call failed", zap.Error(err))
	}
	return toStatus(err)
}

// toStatus maps fulfillment failures onto gRPC codes. The message keeps the
// carrier remarks; internal errors are reported without detail.
func toStatus(err error) error {
	var code codes.Code
	switch fulfillment.KindOf(err) {
	case fulfillment.KindValidation:
		code = codes.InvalidArgument
	case fulfillment.KindUnauthorized:
		code = codes.Unauthenticated
	case fulfillment.KindNotFound:
		code = codes.NotFound
	case fulfillment.KindConflict:
		code = codes.AlreadyExists
	case fulfillment.KindRejected:
		code = codes.FailedPrecondition
	case fulfillment.KindAnomaly:
		code = codes.Unknown
	case fulfillment.KindTransient:
		code = codes.Unavailable
	default:
		return status.Error(codes.Internal, "internal error")
	}
	return status.Error(code, err.Error())
}

// Serve blocks serving on lis.
func (s *FulfillmentServer) Serve(lis net.Listener) error {
	return s.server.Serve(lis)
}

func (s *FulfillmentServer) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	s.logger.Info("Starting fulfillment gRPC server", zap.String("address", addr))
	return s.Serve(lis)
}

func (s *FulfillmentServer) Stop() {
	s.health.Shutdown()
	s.server.GracefulStop()
}
