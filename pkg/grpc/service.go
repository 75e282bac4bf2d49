package grpc

import (
	"context"

	"google.golang.org/grpc"
)

const (
	serviceName          = "orderdesk.fulfillment.v1.FulfillmentService"
	createShipmentMethod = "/" + serviceName + "/CreateShipment"
	syncTrackingMethod   = "/" + serviceName + "/SyncTracking"

	// secretHeader carries the shared internal secret on every call.
	secretHeader = "x-internal-secret"
)

type CreateShipmentRequest struct {
	OrderID string `json:"orderId"`
	Actor   string `json:"actor,omitempty"`
}

type CreateShipmentResponse struct {
	OrderID        string `json:"orderId"`
	Waybill        string `json:"waybill"`
	OrderStatus    string `json:"orderStatus"`
	AlreadyShipped bool   `json:"alreadyShipped,omitempty"`
}

// SyncTrackingRequest reconciles one waybill, or every shipped order when
// Waybill is empty.
type SyncTrackingRequest struct {
	Waybill string `json:"waybill,omitempty"`
}

type SyncTrackingResponse struct {
	Total   int `json:"total"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// FulfillmentServiceServer is the server side of the fulfillment service.
type FulfillmentServiceServer interface {
	CreateShipment(context.Context, *CreateShipmentRequest) (*CreateShipmentResponse, error)
	SyncTracking(context.Context, *SyncTrackingRequest) (*SyncTrackingResponse, error)
}

func createShipmentHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CreateShipmentRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FulfillmentServiceServer).CreateShipment(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: createShipmentMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(FulfillmentServiceServer).CreateShipment(ctx, req.(*CreateShipmentRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func syncTrackingHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SyncTrackingRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FulfillmentServiceServer).SyncTracking(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: syncTrackingMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(FulfillmentServiceServer).SyncTracking(ctx, req.(*SyncTrackingRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var fulfillmentServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*FulfillmentServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateShipment", Handler: createShipmentHandler},
		{MethodName: "SyncTracking", Handler: syncTrackingHandler},
	},
	Streams: []grpc.StreamDesc{},
}

func RegisterFulfillmentServiceServer(s grpc.ServiceRegistrar, srv FulfillmentServiceServer) {
	s.RegisterService(&fulfillmentServiceDesc, srv)
}
