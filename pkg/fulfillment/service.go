// Package fulfillment owns the order lifecycle after checkout: shipment
// creation, carrier status reconciliation, pickup scheduling and session
// promotion. It talks to storage and carriers only through the interfaces
// below.
package fulfillment

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/example/orderdesk/pkg/carrier/delhivery"
	"github.com/example/orderdesk/pkg/config"
	"github.com/example/orderdesk/pkg/models"
	"github.com/example/orderdesk/pkg/repository"
)

type OrderStore interface {
	Get(ctx context.Context, id primitive.ObjectID) (*models.Order, error)
	FindByWaybill(ctx context.Context, waybill string) (*models.Order, error)
	ListWithWaybill(ctx context.Context) ([]*models.Order, error)
	ShippingInfoByPhone(ctx context.Context, phones []string) ([]models.ShippingInfo, error)
	Insert(ctx context.Context, order *models.Order) error
	AssignWaybill(ctx context.Context, id primitive.ObjectID, waybill string) (bool, error)
	ApplyTracking(ctx context.Context, id primitive.ObjectID, update repository.TrackingUpdate) (bool, error)
	SetPickup(ctx context.Context, id primitive.ObjectID, pickup repository.PickupRecord) error
	SetStatus(ctx context.Context, id primitive.ObjectID, status models.OrderStatus) (bool, error)
	SetShiprocketOrderID(ctx context.Context, id primitive.ObjectID, shiprocketID string) error
}

type SessionStore interface {
	Get(ctx context.Context, id primitive.ObjectID) (*models.SessionStartedOrder, error)
	List(ctx context.Context) ([]*models.SessionStartedOrder, error)
	Delete(ctx context.Context, id primitive.ObjectID) error
}

// Carrier is the Delhivery client.
type Carrier interface {
	CreateShipment(ctx context.Context, req *delhivery.ShipmentRequest) (*delhivery.ShipmentResult, error)
	TrackShipment(ctx context.Context, waybill string, refIDs ...string) (*delhivery.TrackingResult, error)
	SchedulePickup(ctx context.Context, req *delhivery.PickupRequest) (*delhivery.PickupResult, error)
	FetchPackingSlip(ctx context.Context, waybill string) ([]byte, error)
}

// OrderRegistrar is the secondary integration notified on promotion.
type OrderRegistrar interface {
	RegisterOrder(ctx context.Context, order *models.Order) (string, error)
}

type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, key, token string) error
}

type Deduper interface {
	MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

type AuditLogger interface {
	CreateAuditLog(ctx context.Context, log *repository.AuditLog) error
	GetAuditLogs(ctx context.Context, entityID string, limit int64) ([]*repository.AuditLog, error)
}

// Deps are the collaborators of a Service. Orders, Sessions and Carrier are
// required; the rest may be nil.
type Deps struct {
	Orders    OrderStore
	Sessions  SessionStore
	Carrier   Carrier
	Registrar OrderRegistrar
	Locks     Locker
	Dedup     Deduper
	Audit     AuditLogger
}

type Service struct {
	orders    OrderStore
	sessions  SessionStore
	carrier   Carrier
	registrar OrderRegistrar
	locks     Locker
	dedup     Deduper
	audit     AuditLogger

	service        string
	pickupLocation string
	shipment       config.ShipmentConfig
	reconcile      config.ReconcileConfig
	promotion      config.PromotionConfig

	validate *validator.Validate
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(deps Deps, cfg *config.Config, logger *zap.Logger) *Service {
	return &Service{
		orders:         deps.Orders,
		sessions:       deps.Sessions,
		carrier:        deps.Carrier,
		registrar:      deps.Registrar,
		locks:          deps.Locks,
		dedup:          deps.Dedup,
		audit:          deps.Audit,
		service:        cfg.Server.Name,
		pickupLocation: cfg.Delhivery.PickupLocation,
		shipment:       cfg.Shipment,
		reconcile:      cfg.Reconcile,
		promotion:      cfg.Promotion,
		validate:       validator.New(),
		logger:         logger.Named("fulfillment"),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Trigger names who started an operation.
type Trigger string

const (
	TriggerAdmin    Trigger = "admin"
	TriggerInternal Trigger = "internal"
	TriggerSystem   Trigger = "system"
)

// Caller is established by the entry point after it has checked its own
// credentials (admin token, shared secret). Operations only accept known
// triggers, so every entry point goes through the same state machine.
type Caller struct {
	Trigger Trigger
	Actor   string
}

func (c Caller) check(op string) error {
	switch c.Trigger {
	case TriggerAdmin, TriggerInternal, TriggerSystem:
		return nil
	}
	return newError(KindUnauthorized, op, "", "unknown caller")
}

func (c Caller) String() string {
	if c.Actor == "" {
		return string(c.Trigger)
	}
	return string(c.Trigger) + ":" + c.Actor
}

func parseID(op, raw string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(raw)
	if err != nil {
		return primitive.NilObjectID, newError(KindValidation, op, raw, "invalid order id")
	}
	return id, nil
}

func (s *Service) loadOrder(ctx context.Context, op string, id primitive.ObjectID) (*models.Order, error) {
	order, err := s.orders.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, newError(KindNotFound, op, id.Hex(), "order not found")
	}
	if err != nil {
		return nil, internalError(op, id.Hex(), err)
	}
	return order, nil
}

// lock takes a redis lock when one is configured and reports false when
// another worker holds it. Lock infrastructure failures are logged and the
// caller proceeds on the store guards alone.
func (s *Service) lock(ctx context.Context, key string, ttl time.Duration) (func(), bool) {
	if s.locks == nil {
		return func() {}, true
	}
	token, ok, err := s.locks.AcquireLock(ctx, key, ttl)
	if err != nil {
		s.logger.Warn("Lock unavailable, relying on store guard", zap.String("key", key), zap.Error(err))
		return func() {}, true
	}
	if !ok {
		return nil, false
	}
	return func() {
		if err := s.locks.ReleaseLock(context.WithoutCancel(ctx), key, token); err != nil {
			s.logger.Warn("Lock release failed", zap.String("key", key), zap.Error(err))
		}
	}, true
}

// persistTimeout bounds writes that record a side effect the carrier has
// already applied. They ignore the caller's cancellation.
const persistTimeout = 10 * time.Second

func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
}

func (s *Service) record(ctx context.Context, action, entityID string, caller Caller, data bson.M) {
	if s.audit == nil {
		return
	}
	entry := &repository.AuditLog{
		Service:  s.service,
		Action:   action,
		EntityID: entityID,
		Actor:    caller.String(),
		Data:     data,
	}
	if err := s.audit.CreateAuditLog(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.Warn("Audit log write failed", zap.String("action", action), zap.String("entity_id", entityID), zap.Error(err))
	}
}

// Order returns a single order.
func (s *Service) Order(ctx context.Context, orderID string) (*models.Order, error) {
	const op = "order.get"
	id, err := parseID(op, orderID)
	if err != nil {
		return nil, err
	}
	return s.loadOrder(ctx, op, id)
}

const historyLimit = 100

// History returns the newest audit entries for an order.
func (s *Service) History(ctx context.Context, orderID string) ([]*repository.AuditLog, error) {
	const op = "order.history"
	if _, err := parseID(op, orderID); err != nil {
		return nil, err
	}
	if s.audit == nil {
		return []*repository.AuditLog{}, nil
	}
	logs, err := s.audit.GetAuditLogs(ctx, orderID, historyLimit)
	if err != nil {
		return nil, internalError(op, orderID, err)
	}
	return logs, nil
}
