package fulfillment

import (
	"context"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/example/orderdesk/pkg/carrier/delhivery"
	"github.com/example/orderdesk/pkg/repository"
)

// PickupInput is what an operator picks in the dashboard. Slot may be a
// range such as "10:00-13:00" or "2 PM - 5 PM"; its start is used.
type PickupInput struct {
	Date         string `json:"pickupDate" validate:"required,datetime=2006-01-02"`
	Slot         string `json:"pickupTime" validate:"required"`
	PackageCount int    `json:"expectedPackageCount" validate:"required,gte=1"`
}

type PickupOutcome struct {
	OrderID    string `json:"orderId"`
	RequestID  string `json:"pickupRequestId"`
	Date       string `json:"pickupDate"`
	Time       string `json:"pickupTime"`
	CenterName string `json:"centerName,omitempty"`
}

var slotLayouts = []string{"15:04", "15:04:05", "3:04 PM", "3:04PM", "3 PM", "3PM", "1504"}

// normalizeSlot returns the slot start as HH:mm.
func normalizeSlot(slot string) (string, bool) {
	start := slot
	for _, sep := range []string{" - ", "-", " to ", "–"} {
		if i := strings.Index(start, sep); i > 0 {
			start = start[:i]
			break
		}
	}
	start = strings.ToUpper(strings.TrimSpace(start))
	for _, layout := range slotLayouts {
		if t, err := time.Parse(layout, start); err == nil {
			return t.Format("15:04"), true
		}
	}
	return "", false
}

// SchedulePickup requests a carrier pickup for an order that already has a
// waybill. It records pickup metadata only and never changes orderStatus.
func (s *Service) SchedulePickup(ctx context.Context, caller Caller, orderID string, in PickupInput) (*PickupOutcome, error) {
	const op = "pickup.schedule"
	if err := caller.check(op); err != nil {
		return nil, err
	}
	id, err := parseID(op, orderID)
	if err != nil {
		return nil, err
	}
	if err := s.validate.Struct(in); err != nil {
		return nil, validationError(op, orderID, err)
	}
	slot, ok := normalizeSlot(in.Slot)
	if !ok {
		verr := newError(KindValidation, op, orderID, "invalid pickup time "+in.Slot)
		verr.Fields = map[string]string{"Slot": "time"}
		return nil, verr
	}

	order, err := s.loadOrder(ctx, op, id)
	if err != nil {
		return nil, err
	}
	if !order.HasWaybill() {
		return nil, newError(KindValidation, op, orderID, "create Delhivery order first")
	}

	result, err := s.carrier.SchedulePickup(ctx, &delhivery.PickupRequest{
		PickupLocation:       s.pickupLocation,
		PickupDate:           in.Date,
		PickupTime:           slot,
		ExpectedPackageCount: in.PackageCount,
	})
	if err != nil {
		ferr := fromCarrier(op, orderID, err)
		s.logger.Warn("Pickup request failed",
			zap.String("order_id", orderID),
			zap.Stringer("kind", ferr.Kind),
			zap.String("detail", ferr.Detail),
			zap.Error(err))
		return nil, ferr
	}

	date, at := in.Date, slot
	if result.Date != "" {
		date = result.Date
	}
	if result.Time != "" {
		at = result.Time
	}
	writeCtx, cancel := detached(ctx)
	defer cancel()
	if err := s.orders.SetPickup(writeCtx, id, repository.PickupRecord{Date: date, Time: at, RequestID: result.RequestID}); err != nil {
		s.logger.Error("Pickup scheduled but not recorded",
			zap.String("order_id", orderID),
			zap.String("pickup_request_id", result.RequestID),
			zap.Error(err))
		return nil, internalError(op, orderID, err)
	}

	s.logger.Info("Pickup scheduled", zap.String("order_id", orderID), zap.String("pickup_request_id", result.RequestID))
	s.record(ctx, "pickup.scheduled", orderID, caller, bson.M{"pickup_request_id": result.RequestID, "date": date, "time": at})

	return &PickupOutcome{
		OrderID:    orderID,
		RequestID:  result.RequestID,
		Date:       date,
		Time:       at,
		CenterName: result.CenterName,
	}, nil
}
