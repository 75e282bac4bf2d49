package fulfillment

import (
	"context"
	"errors"
	"slices"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/example/orderdesk/pkg/carrier/delhivery"
	"github.com/example/orderdesk/pkg/models"
	"github.com/example/orderdesk/pkg/repository"
)

// Summary counts the outcome of a reconciliation run. Failures are logged
// per order and only counted here.
type Summary struct {
	Total   int `json:"total"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

type reconcileResult int

const (
	resultSkipped reconcileResult = iota
	resultUpdated
)

const batchLockKey = "reconcile:batch"

// ReconcileAll polls the carrier for every order with a waybill. Orders are
// processed with bounded concurrency and a shared request rate; a failing
// order never stops the others.
func (s *Service) ReconcileAll(ctx context.Context) (*Summary, error) {
	const op = "reconcile.all"

	release, ok := s.lock(ctx, batchLockKey, s.reconcile.BatchLockTTL)
	if !ok {
		return nil, newError(KindConflict, op, "", "reconciliation already running")
	}
	defer release()

	orders, err := s.orders.ListWithWaybill(ctx)
	if err != nil {
		return nil, internalError(op, "", err)
	}

	concurrency := s.reconcile.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	limit := rate.Inf
	if s.reconcile.RatePerSecond > 0 {
		limit = rate.Limit(s.reconcile.RatePerSecond)
	}
	limiter := rate.NewLimiter(limit, 1)

	var (
		mu      sync.Mutex
		summary = &Summary{Total: len(orders)}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, order := range orders {
		g.Go(func() error {
			if err := limiter.Wait(gctx); err != nil {
				return err
			}
			result, err := s.reconcileOrder(gctx, order)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				summary.Failed++
				s.logger.Warn("Order reconciliation failed",
					zap.String("order_id", order.ID.Hex()),
					zap.String("waybill", order.Waybill),
					zap.Error(err))
			case result == resultUpdated:
				summary.Updated++
			default:
				summary.Skipped++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, newError(KindTransient, op, "", "reconciliation interrupted: "+err.Error())
	}

	s.logger.Info("Reconciliation finished",
		zap.Int("total", summary.Total),
		zap.Int("updated", summary.Updated),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed))
	return summary, nil
}

// ReconcileWaybill runs the same per-order step for one waybill. Unlike the
// batch run it returns the order's failure to the caller.
func (s *Service) ReconcileWaybill(ctx context.Context, waybill string) (*Summary, error) {
	const op = "reconcile.waybill"
	if waybill == "" {
		return nil, newError(KindValidation, op, "", "waybill is required")
	}

	order, err := s.orders.FindByWaybill(ctx, waybill)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, newError(KindNotFound, op, "", "no order with waybill "+waybill)
	}
	if err != nil {
		return nil, internalError(op, "", err)
	}

	result, err := s.reconcileOrder(ctx, order)
	if err != nil {
		return &Summary{Total: 1, Failed: 1}, err
	}
	if result == resultUpdated {
		return &Summary{Total: 1, Updated: 1}, nil
	}
	return &Summary{Total: 1, Skipped: 1}, nil
}

// HandleTrackingPush reacts to a carrier webhook. Repeated deliveries of
// the same status event are acknowledged without polling the carrier.
func (s *Service) HandleTrackingPush(ctx context.Context, update *delhivery.PushUpdate) (*Summary, error) {
	awb := update.Shipment.AWB
	if s.dedup != nil {
		key := "delhivery:" + awb + ":" + update.Shipment.Status.Status + ":" + update.Shipment.Status.StatusDateTime
		first, err := s.dedup.MarkOnce(ctx, key, s.reconcile.WebhookDedupTTL)
		if err != nil {
			s.logger.Warn("Webhook dedup unavailable", zap.String("waybill", awb), zap.Error(err))
		} else if !first {
			s.logger.Debug("Duplicate tracking push", zap.String("waybill", awb))
			return &Summary{Total: 1, Skipped: 1}, nil
		}
	}
	return s.ReconcileWaybill(ctx, awb)
}

func (s *Service) reconcileOrder(ctx context.Context, order *models.Order) (reconcileResult, error) {
	const op = "reconcile.order"
	orderID := order.ID.Hex()
	if !order.HasWaybill() {
		return resultSkipped, nil
	}
	log := s.logger.With(zap.String("order_id", orderID), zap.String("waybill", order.Waybill))

	tracking, err := s.carrier.TrackShipment(ctx, order.Waybill)
	if err != nil {
		return resultSkipped, fromCarrier(op, orderID, err)
	}
	shipment, ok := tracking.Find(order.Waybill)
	if !ok {
		// Carrier data lags behind creation.
		log.Debug("No tracking data yet", zap.String("remark", tracking.Remark))
		return resultSkipped, nil
	}

	events := trackingEvents(shipment.Scans)
	carrierStatus := shipment.Status.Status
	mapped := MapCarrierStatus(carrierStatus)
	now := s.now()

	unchanged := slices.Equal(order.OrderTracking, events) && carrierStatus == order.DelhiveryCurrentStatus
	if unchanged && now.Sub(order.UpdatedAt) < s.reconcile.FreshWindow {
		return resultSkipped, nil
	}

	update := repository.TrackingUpdate{CarrierStatus: carrierStatus, Tracking: events}
	if mapped.Rank() > order.OrderStatus.Rank() {
		update.Status = mapped
		if mapped == models.StatusDelivered {
			update.DeliveredAt = &now
		}
	}

	changed, err := s.orders.ApplyTracking(ctx, order.ID, update)
	if err != nil {
		return resultSkipped, internalError(op, orderID, err)
	}

	log.Info("Tracking updated",
		zap.String("carrier_status", carrierStatus),
		zap.Int("events", len(events)),
		zap.Bool("status_changed", changed))
	if changed && update.Status == models.StatusDelivered {
		s.record(ctx, "order.delivered", orderID, Caller{Trigger: TriggerSystem, Actor: "reconcile"}, bson.M{"waybill": order.Waybill})
	}
	return resultUpdated, nil
}

func trackingEvents(scans []delhivery.ScanDetail) []models.TrackingEvent {
	events := make([]models.TrackingEvent, 0, len(scans))
	for _, scan := range scans {
		events = append(events, models.TrackingEvent{
			Status:       scan.Scan,
			Timestamp:    scan.ScanDateTime,
			Type:         scan.ScanType,
			Location:     scan.ScannedLocation,
			Instructions: scan.Instructions,
		})
	}
	return events
}
