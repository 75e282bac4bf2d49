package fulfillment

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/example/orderdesk/pkg/carrier/delhivery"
	"github.com/example/orderdesk/pkg/config"
	"github.com/example/orderdesk/pkg/models"
	"github.com/example/orderdesk/pkg/repository"
)

// memOrders mirrors the conditional updates of repository.OrderStore.
type memOrders struct {
	mu     sync.Mutex
	orders map[primitive.ObjectID]*models.Order
	writes int
	now    func() time.Time

	// beforeAssign runs inside AssignWaybill before the guard is checked,
	// to simulate a concurrent writer.
	beforeAssign func(o *models.Order)
}

func newMemOrders(now func() time.Time) *memOrders {
	return &memOrders{orders: map[primitive.ObjectID]*models.Order{}, now: now}
}

func cloneOrder(o *models.Order) *models.Order {
	c := *o
	c.OrderItems = append([]models.OrderItem(nil), o.OrderItems...)
	c.OrderTracking = append([]models.TrackingEvent(nil), o.OrderTracking...)
	if o.DeliveredAt != nil {
		t := *o.DeliveredAt
		c.DeliveredAt = &t
	}
	return &c
}

func (m *memOrders) put(o *models.Order) *models.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o.ID.IsZero() {
		o.ID = primitive.NewObjectID()
	}
	m.orders[o.ID] = cloneOrder(o)
	return o
}

func (m *memOrders) snapshot(id primitive.ObjectID) *models.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneOrder(m.orders[id])
}

func (m *memOrders) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *memOrders) Get(_ context.Context, id primitive.ObjectID) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneOrder(o), nil
}

func (m *memOrders) FindByWaybill(_ context.Context, waybill string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.Waybill == waybill {
			return cloneOrder(o), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memOrders) ListWithWaybill(_ context.Context) ([]*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Order
	for _, o := range m.orders {
		if o.Waybill != "" {
			out = append(out, cloneOrder(o))
		}
	}
	return out, nil
}

func (m *memOrders) ShippingInfoByPhone(_ context.Context, phones []string) ([]models.ShippingInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ShippingInfo
	for _, o := range m.orders {
		for _, p := range phones {
			if o.ShippingInfo.PhoneNo == p {
				out = append(out, o.ShippingInfo)
			}
		}
	}
	return out, nil
}

func (m *memOrders) Insert(_ context.Context, o *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o.ID.IsZero() {
		o.ID = primitive.NewObjectID()
	}
	o.CreatedAt, o.UpdatedAt = m.now(), m.now()
	m.orders[o.ID] = cloneOrder(o)
	m.writes++
	return nil
}

func (m *memOrders) AssignWaybill(_ context.Context, id primitive.ObjectID, waybill string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return false, nil
	}
	if m.beforeAssign != nil {
		m.beforeAssign(o)
	}
	if o.Waybill != "" {
		return false, nil
	}
	o.Waybill = waybill
	o.OrderStatus = models.StatusShipped
	o.UpdatedAt = m.now()
	m.writes++
	return true, nil
}

func (m *memOrders) ApplyTracking(_ context.Context, id primitive.ObjectID, u repository.TrackingUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	o.DelhiveryCurrentStatus = u.CarrierStatus
	o.OrderTracking = append([]models.TrackingEvent{}, u.Tracking...)
	o.UpdatedAt = m.now()
	m.writes++
	if u.Status != "" && u.Status.Rank() > o.OrderStatus.Rank() {
		o.OrderStatus = u.Status
		if u.DeliveredAt != nil {
			t := *u.DeliveredAt
			o.DeliveredAt = &t
		}
		return true, nil
	}
	return false, nil
}

func (m *memOrders) SetPickup(_ context.Context, id primitive.ObjectID, p repository.PickupRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return repository.ErrNotFound
	}
	o.PickupScheduled = true
	o.PickupDate, o.PickupTime, o.PickupRequestID = p.Date, p.Time, p.RequestID
	o.UpdatedAt = m.now()
	m.writes++
	return nil
}

func (m *memOrders) SetStatus(_ context.Context, id primitive.ObjectID, status models.OrderStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.OrderStatus == models.StatusDelivered {
		return false, nil
	}
	if status == models.StatusShipped && o.Waybill == "" {
		return false, nil
	}
	o.OrderStatus = status
	if status == models.StatusDelivered {
		t := m.now()
		o.DeliveredAt = &t
	}
	o.UpdatedAt = m.now()
	m.writes++
	return true, nil
}

func (m *memOrders) SetShiprocketOrderID(_ context.Context, id primitive.ObjectID, shiprocketID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return repository.ErrNotFound
	}
	o.ShiprocketOrderID = shiprocketID
	m.writes++
	return nil
}

type memSessions struct {
	mu       sync.Mutex
	sessions map[primitive.ObjectID]*models.SessionStartedOrder
	order    []primitive.ObjectID
}

func newMemSessions(sessions ...*models.SessionStartedOrder) *memSessions {
	m := &memSessions{sessions: map[primitive.ObjectID]*models.SessionStartedOrder{}}
	for _, s := range sessions {
		if s.ID.IsZero() {
			s.ID = primitive.NewObjectID()
		}
		m.sessions[s.ID] = s
		m.order = append(m.order, s.ID)
	}
	return m
}

func (m *memSessions) Get(_ context.Context, id primitive.ObjectID) (*models.SessionStartedOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *s
	return &c, nil
}

func (m *memSessions) List(_ context.Context) ([]*models.SessionStartedOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.SessionStartedOrder
	for _, id := range m.order {
		if s, ok := m.sessions[id]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memSessions) Delete(_ context.Context, id primitive.ObjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.sessions, id)
	return nil
}

func (m *memSessions) has(id primitive.ObjectID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[id]
	return ok
}

// stubCarrier answers with the configured functions and counts calls.
type stubCarrier struct {
	mu     sync.Mutex
	calls  map[string]int
	create func(*delhivery.ShipmentRequest) (*delhivery.ShipmentResult, error)
	track  func(waybill string) (*delhivery.TrackingResult, error)
	pickup func(*delhivery.PickupRequest) (*delhivery.PickupResult, error)
	slip   func(waybill string) ([]byte, error)

	lastShipment *delhivery.ShipmentRequest
	lastPickup   *delhivery.PickupRequest
}

func (c *stubCarrier) count(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = map[string]int{}
	}
	c.calls[name]++
}

func (c *stubCarrier) Calls(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[name]
}

func (c *stubCarrier) CreateShipment(_ context.Context, req *delhivery.ShipmentRequest) (*delhivery.ShipmentResult, error) {
	c.count("create")
	c.mu.Lock()
	c.lastShipment = req
	c.mu.Unlock()
	return c.create(req)
}

func (c *stubCarrier) TrackShipment(_ context.Context, waybill string, _ ...string) (*delhivery.TrackingResult, error) {
	c.count("track")
	return c.track(waybill)
}

func (c *stubCarrier) SchedulePickup(_ context.Context, req *delhivery.PickupRequest) (*delhivery.PickupResult, error) {
	c.count("pickup")
	c.mu.Lock()
	c.lastPickup = req
	c.mu.Unlock()
	return c.pickup(req)
}

func (c *stubCarrier) FetchPackingSlip(_ context.Context, waybill string) ([]byte, error) {
	c.count("slip")
	return c.slip(waybill)
}

type stubRegistrar struct {
	id  string
	err error
}

func (r *stubRegistrar) RegisterOrder(context.Context, *models.Order) (string, error) {
	return r.id, r.err
}

type memLocks struct {
	mu   sync.Mutex
	held map[string]string
	seen map[string]bool
}

func newMemLocks() *memLocks {
	return &memLocks{held: map[string]string{}, seen: map[string]bool{}}
}

func (l *memLocks) AcquireLock(_ context.Context, key string, _ time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return "", false, nil
	}
	token := primitive.NewObjectID().Hex()
	l.held[key] = token
	return token, true, nil
}

func (l *memLocks) ReleaseLock(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
	}
	return nil
}

func (l *memLocks) MarkOnce(_ context.Context, key string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seen[key] {
		return false, nil
	}
	l.seen[key] = true
	return true, nil
}

type memAudit struct {
	mu      sync.Mutex
	entries []*repository.AuditLog
}

func (a *memAudit) CreateAuditLog(_ context.Context, log *repository.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, log)
	return nil
}

func (a *memAudit) GetAuditLogs(_ context.Context, entityID string, limit int64) ([]*repository.AuditLog, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []*repository.AuditLog
	for i := len(a.entries) - 1; i >= 0 && int64(len(out)) < limit; i-- {
		if a.entries[i].EntityID == entityID {
			out = append(out, a.entries[i])
		}
	}
	return out, nil
}

func (a *memAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.Action)
	}
	return out
}

// clock is a settable time source shared by the service and the fakes.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	svc      *Service
	orders   *memOrders
	sessions *memSessions
	carrier  *stubCarrier
	locks    *memLocks
	audit    *memAudit
	clock    *clock
}

func testConfig() *config.Config {
	return &config.Config{
		Server:    config.ServerConfig{Name: "order-service"},
		Delhivery: config.DelhiveryConfig{PickupLocation: "BAGS WAREHOUSE"},
		Shipment: config.ShipmentConfig{
			Origin: config.AddressConfig{
				Name: "Bags Co", Address: "1 Industrial Area", City: "Jaipur",
				State: "RJ", Country: "India", Pin: "302001", Phone: "9100000000",
			},
			SellerName:      "Bags Co",
			SellerAddress:   "1 Industrial Area, Jaipur",
			HSNCode:         "4202",
			UnitWeightGrams: 300,
			Dimensions:      config.DimensionsConfig{LengthCM: 30, WidthCM: 20, HeightCM: 15},
			ShippingMode:    "Surface",
			AddressType:     "home",
			LockTTL:         30 * time.Second,
		},
		Reconcile: config.ReconcileConfig{
			Concurrency:     3,
			FreshWindow:     time.Hour,
			BatchLockTTL:    time.Minute,
			WebhookDedupTTL: time.Hour,
		},
	}
}

func newFixture(t *testing.T, opts ...func(*Deps, *config.Config)) *fixture {
	t.Helper()
	clk := &clock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	f := &fixture{
		orders:   newMemOrders(clk.Now),
		sessions: newMemSessions(),
		carrier:  &stubCarrier{},
		locks:    newMemLocks(),
		audit:    &memAudit{},
		clock:    clk,
	}
	deps := Deps{
		Orders:   f.orders,
		Sessions: f.sessions,
		Carrier:  f.carrier,
		Locks:    f.locks,
		Dedup:    f.locks,
		Audit:    f.audit,
	}
	cfg := testConfig()
	for _, opt := range opts {
		opt(&deps, cfg)
	}
	if sessions, ok := deps.Sessions.(*memSessions); ok {
		f.sessions = sessions
	}
	f.svc = NewService(deps, cfg, zap.NewNop())
	f.svc.now = clk.Now
	return f
}

var admin = Caller{Trigger: TriggerAdmin, Actor: "ops@example.com"}

func codOrder() *models.Order {
	return &models.Order{
		ShippingInfo: models.ShippingInfo{
			Name: "Asha Rao", Address: "12 MG Road", City: "Bengaluru", State: "KA",
			Country: "India", PinCode: "560001", PhoneNo: "9800000000",
		},
		OrderItems: []models.OrderItem{
			{Name: "Canvas Tote", Quantity: 1, Price: 500},
			{Name: "Laptop Backpack", Quantity: 2, Price: 500},
		},
		PaymentMethod: models.PaymentCOD,
		ItemsPrice:    1500,
		TotalAmount:   1500,
		OrderStatus:   models.StatusProcessing,
		CreatedAt:     time.Date(2024, 2, 28, 18, 30, 0, 0, time.UTC),
		UpdatedAt:     time.Date(2024, 2, 28, 18, 30, 0, 0, time.UTC),
	}
}

// strictOrders fails writes on a done context, as the Mongo driver does.
type strictOrders struct {
	*memOrders
}

func (o strictOrders) AssignWaybill(ctx context.Context, id primitive.ObjectID, waybill string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return o.memOrders.AssignWaybill(ctx, id, waybill)
}

func (o strictOrders) SetPickup(ctx context.Context, id primitive.ObjectID, pickup repository.PickupRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return o.memOrders.SetPickup(ctx, id, pickup)
}

func withStrictOrders(d *Deps, _ *config.Config) {
	d.Orders = strictOrders{d.Orders.(*memOrders)}
}
