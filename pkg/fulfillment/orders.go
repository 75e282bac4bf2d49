package fulfillment

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/example/orderdesk/pkg/models"
)

// PackingSlip returns the shipping label PDF for an order.
func (s *Service) PackingSlip(ctx context.Context, orderID string) ([]byte, error) {
	const op = "packing_slip.fetch"
	id, err := parseID(op, orderID)
	if err != nil {
		return nil, err
	}
	order, err := s.loadOrder(ctx, op, id)
	if err != nil {
		return nil, err
	}
	if !order.HasWaybill() {
		return nil, newError(KindValidation, op, orderID, "create Delhivery order first")
	}

	pdf, err := s.carrier.FetchPackingSlip(ctx, order.Waybill)
	if err != nil {
		return nil, fromCarrier(op, orderID, err)
	}
	return pdf, nil
}

// SetOrderStatus is the manual override. Delivered is final, Shipped needs
// a waybill, and setting the current status again is a no-op.
func (s *Service) SetOrderStatus(ctx context.Context, caller Caller, orderID string, status models.OrderStatus) (*models.Order, error) {
	const op = "order.set_status"
	if err := caller.check(op); err != nil {
		return nil, err
	}
	id, err := parseID(op, orderID)
	if err != nil {
		return nil, err
	}
	if !status.Valid() {
		verr := newError(KindValidation, op, orderID, "unknown order status "+string(status))
		verr.Fields = map[string]string{"orderStatus": "oneof=Processing Shipped Delivered"}
		return nil, verr
	}

	order, err := s.loadOrder(ctx, op, id)
	if err != nil {
		return nil, err
	}
	if order.OrderStatus == status {
		return order, nil
	}
	if order.OrderStatus == models.StatusDelivered {
		return nil, newError(KindConflict, op, orderID, "delivered orders cannot change status")
	}
	if status == models.StatusShipped && !order.HasWaybill() {
		return nil, newError(KindValidation, op, orderID, "create Delhivery order first")
	}

	ok, err := s.orders.SetStatus(ctx, id, status)
	if err != nil {
		return nil, internalError(op, orderID, err)
	}
	if !ok {
		return nil, newError(KindConflict, op, orderID, "order changed while updating status")
	}

	s.logger.Info("Order status overridden",
		zap.String("order_id", orderID),
		zap.String("from", string(order.OrderStatus)),
		zap.String("to", string(status)),
		zap.Stringer("caller", caller))
	s.record(ctx, "order.status_set", orderID, caller, bson.M{"from": order.OrderStatus, "to": status})
	return s.loadOrder(ctx, op, id)
}

// PendingSessions lists session orders that do not look like an existing
// order. Matching is by phone, pin code and address, so it is a dashboard
// filter rather than authoritative dedup.
func (s *Service) PendingSessions(ctx context.Context) ([]*models.SessionStartedOrder, error) {
	const op = "session.list_pending"
	sessions, err := s.sessions.List(ctx)
	if err != nil {
		return nil, internalError(op, "", err)
	}
	if len(sessions) == 0 {
		return []*models.SessionStartedOrder{}, nil
	}

	seenPhone := make(map[string]struct{}, len(sessions))
	phones := make([]string, 0, len(sessions))
	for _, session := range sessions {
		phone := session.ShippingInfo.PhoneNo
		if _, ok := seenPhone[phone]; ok || phone == "" {
			continue
		}
		seenPhone[phone] = struct{}{}
		phones = append(phones, phone)
	}

	infos, err := s.orders.ShippingInfoByPhone(ctx, phones)
	if err != nil {
		return nil, internalError(op, "", err)
	}
	converted := make(map[string]struct{}, len(infos))
	for _, info := range infos {
		converted[info.MatchKey()] = struct{}{}
	}

	pending := make([]*models.SessionStartedOrder, 0, len(sessions))
	for _, session := range sessions {
		if _, ok := converted[session.ShippingInfo.MatchKey()]; ok {
			continue
		}
		pending = append(pending, session)
	}
	return pending, nil
}
