package fulfillment

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/example/orderdesk/pkg/models"
)

type ShipmentOutcome struct {
	OrderID string             `json:"orderId"`
	Waybill string             `json:"waybill"`
	Status  models.OrderStatus `json:"orderStatus"`
}

// CreateShipment is the only path by which an order gets a waybill. Every
// entry point calls it with its own Caller; the precondition and the write
// are the same for all of them.
//
// On any carrier failure the order is left untouched. On success the
// waybill and Shipped status are written in one conditional update, and a
// lost race is reported as a conflict.
func (s *Service) CreateShipment(ctx context.Context, caller Caller, orderID string) (*ShipmentOutcome, error) {
	const op = "shipment.create"
	if err := caller.check(op); err != nil {
		return nil, err
	}
	id, err := parseID(op, orderID)
	if err != nil {
		return nil, err
	}
	log := s.logger.With(zap.String("order_id", orderID), zap.String("trigger", string(caller.Trigger)))

	order, err := s.loadOrder(ctx, op, id)
	if err != nil {
		return nil, err
	}
	if order.HasWaybill() {
		return nil, alreadyShipped(op, order)
	}

	req, err := s.buildShipmentRequest(order)
	if err != nil {
		return nil, err
	}

	release, ok := s.lock(ctx, "shipment:"+orderID, s.shipment.LockTTL)
	if !ok {
		return nil, newError(KindConflict, op, orderID, "shipment creation already in progress")
	}
	defer release()

	result, err := s.carrier.CreateShipment(ctx, req)
	if err != nil {
		ferr := fromCarrier(op, orderID, err)
		log.Warn("Shipment creation failed", zap.Stringer("kind", ferr.Kind), zap.Strings("remarks", ferr.Remarks), zap.Error(err))
		return nil, ferr
	}

	writeCtx, cancel := detached(ctx)
	defer cancel()
	assigned, err := s.orders.AssignWaybill(writeCtx, id, result.Waybill)
	if err != nil {
		log.Error("Carrier waybill not recorded", zap.String("waybill", result.Waybill), zap.Error(err))
		return nil, internalError(op, orderID, err)
	}
	if !assigned {
		// Another trigger won between our read and the carrier call. The
		// carrier now holds a second shipment that needs manual cancellation.
		log.Error("Orphaned carrier waybill after lost race", zap.String("waybill", result.Waybill))
		current, err := s.loadOrder(writeCtx, op, id)
		if err != nil {
			return nil, err
		}
		return nil, alreadyShipped(op, current)
	}

	log.Info("Shipment created", zap.String("waybill", result.Waybill))
	s.record(ctx, "shipment.created", orderID, caller, bson.M{"waybill": result.Waybill, "upload_wbn": result.UploadWBN})

	return &ShipmentOutcome{OrderID: orderID, Waybill: result.Waybill, Status: models.StatusShipped}, nil
}

func alreadyShipped(op string, order *models.Order) *Error {
	err := newError(KindConflict, op, order.ID.Hex(), "order already shipped")
	err.Waybill = order.Waybill
	return err
}
