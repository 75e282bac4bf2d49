package fulfillment

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/example/orderdesk/pkg/models"
	"github.com/example/orderdesk/pkg/repository"
)

// PromotionResult reports a durable order plus anything best-effort that
// did not work out.
type PromotionResult struct {
	Order    *models.Order `json:"order"`
	Warnings []string      `json:"warnings,omitempty"`
}

func (r *PromotionResult) warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// PromoteSession turns a session order into an Order. The order is
// persisted first; Shiprocket registration, the optional automatic
// shipment and the session cleanup only add warnings when they fail.
func (s *Service) PromoteSession(ctx context.Context, caller Caller, sessionID string) (*PromotionResult, error) {
	const op = "session.promote"
	if err := caller.check(op); err != nil {
		return nil, err
	}
	id, err := parseID(op, sessionID)
	if err != nil {
		return nil, err
	}
	log := s.logger.With(zap.String("session_id", sessionID))

	release, ok := s.lock(ctx, "promote:"+sessionID, s.shipment.LockTTL)
	if !ok {
		return nil, newError(KindConflict, op, sessionID, "promotion already in progress")
	}
	defer release()

	session, err := s.sessions.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, newError(KindNotFound, op, sessionID, "session order not found")
	}
	if err != nil {
		return nil, internalError(op, sessionID, err)
	}

	order := orderFromSession(session)
	if err := s.orders.Insert(ctx, order); err != nil {
		return nil, internalError(op, sessionID, err)
	}
	orderID := order.ID.Hex()
	log = log.With(zap.String("order_id", orderID))
	result := &PromotionResult{Order: order}

	if s.registrar != nil {
		shiprocketID, err := s.registrar.RegisterOrder(ctx, order)
		switch {
		case err != nil:
			log.Warn("Shiprocket registration failed", zap.Error(err))
			result.warn("shiprocket registration failed: " + err.Error())
		default:
			order.ShiprocketOrderID = shiprocketID
			if err := s.orders.SetShiprocketOrderID(ctx, order.ID, shiprocketID); err != nil {
				log.Warn("Shiprocket order id not stored", zap.String("shiprocket_order_id", shiprocketID), zap.Error(err))
				result.warn("shiprocket order id not stored: " + err.Error())
			}
		}
	}

	if s.promotion.AutoCreateShipment {
		shipment, err := s.CreateShipment(ctx, Caller{Trigger: TriggerSystem, Actor: "promotion"}, orderID)
		if err != nil {
			log.Warn("Automatic shipment creation failed", zap.Error(err))
			result.warn("shipment not created: " + err.Error())
		} else {
			order.Waybill = shipment.Waybill
			order.OrderStatus = shipment.Status
		}
	}

	if err := s.sessions.Delete(ctx, id); err != nil && !errors.Is(err, repository.ErrNotFound) {
		log.Warn("Session order not removed after promotion", zap.Error(err))
		result.warn("session order not removed: " + err.Error())
	}

	log.Info("Session promoted", zap.Int("warnings", len(result.Warnings)))
	s.record(ctx, "session.promoted", orderID, caller, bson.M{"session_id": sessionID, "warnings": result.Warnings})
	return result, nil
}

func orderFromSession(session *models.SessionStartedOrder) *models.Order {
	items := make([]models.OrderItem, len(session.OrderItems))
	copy(items, session.OrderItems)
	return &models.Order{
		User:          session.User,
		ShippingInfo:  session.ShippingInfo,
		OrderItems:    items,
		PaymentMethod: models.PaymentOnline,
		PaymentInfo: &models.PaymentInfo{
			ID:     session.RazorpayOrderID,
			Status: session.RazorpayPaymentStatus,
		},
		ItemsPrice:  session.ItemsPrice,
		TotalAmount: session.TotalAmount,
		OrderStatus: models.StatusProcessing,
	}
}
