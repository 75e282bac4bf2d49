package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/example/orderdesk/pkg/models"
)

// OrderStore persists orders. Every mutation is a single-document update
// whose filter carries its own precondition, so concurrent triggers never
// need a read-modify-write.
type OrderStore struct {
	coll *mongo.Collection
	now  func() time.Time
}

func NewOrderStore(coll *mongo.Collection) *OrderStore {
	return &OrderStore{coll: coll, now: func() time.Time { return time.Now().UTC() }}
}

// TrackingUpdate is the result of one reconciliation. Status is empty when
// the business status should not move. DeliveredAt is set only together
// with StatusDelivered.
type TrackingUpdate struct {
	CarrierStatus string
	Tracking      []models.TrackingEvent
	Status        models.OrderStatus
	DeliveredAt   *time.Time
}

// PickupRecord is the metadata stored after a successful pickup request.
type PickupRecord struct {
	Date      string
	Time      string
	RequestID string
}

var noWaybill = bson.A{
	bson.M{"waybill": bson.M{"$exists": false}},
	bson.M{"waybill": nil},
	bson.M{"waybill": ""},
}

func (s *OrderStore) Get(ctx context.Context, id primitive.ObjectID) (*models.Order, error) {
	var order models.Order
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&order)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find order %s: %w", id.Hex(), err)
	}
	return &order, nil
}

func (s *OrderStore) FindByWaybill(ctx context.Context, waybill string) (*models.Order, error) {
	var order models.Order
	err := s.coll.FindOne(ctx, bson.M{"waybill": waybill}).Decode(&order)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find order by waybill %s: %w", waybill, err)
	}
	return &order, nil
}

// ListWithWaybill returns every order that has a carrier shipment,
// oldest update first.
func (s *OrderStore) ListWithWaybill(ctx context.Context) ([]*models.Order, error) {
	filter := bson.M{"waybill": bson.M{"$exists": true, "$nin": bson.A{nil, ""}}}
	opts := options.Find().SetSort(bson.D{{Key: "updatedAt", Value: 1}})

	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list shipped orders: %w", err)
	}
	defer cursor.Close(ctx)

	var orders []*models.Order
	if err := cursor.All(ctx, &orders); err != nil {
		return nil, fmt.Errorf("decode shipped orders: %w", err)
	}
	return orders, nil
}

// ShippingInfoByPhone returns the shipping details of orders sent to any of
// phones.
func (s *OrderStore) ShippingInfoByPhone(ctx context.Context, phones []string) ([]models.ShippingInfo, error) {
	if len(phones) == 0 {
		return nil, nil
	}
	filter := bson.M{"shippingInfo.phoneNo": bson.M{"$in": phones}}
	opts := options.Find().SetProjection(bson.M{"shippingInfo": 1})

	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find orders by phone: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []struct {
		ShippingInfo models.ShippingInfo `bson:"shippingInfo"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode orders by phone: %w", err)
	}
	infos := make([]models.ShippingInfo, 0, len(docs))
	for _, d := range docs {
		infos = append(infos, d.ShippingInfo)
	}
	return infos, nil
}

func (s *OrderStore) Insert(ctx context.Context, order *models.Order) error {
	now := s.now()
	if order.ID.IsZero() {
		order.ID = primitive.NewObjectID()
	}
	if order.OrderStatus == "" {
		order.OrderStatus = models.StatusProcessing
	}
	order.CreatedAt = now
	order.UpdatedAt = now

	if _, err := s.coll.InsertOne(ctx, order); err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// AssignWaybill sets the waybill and moves the order to Shipped only if no
// waybill is present. It reports false when the order already had one.
func (s *OrderStore) AssignWaybill(ctx context.Context, id primitive.ObjectID, waybill string) (bool, error) {
	filter := bson.M{"_id": id, "$or": noWaybill}
	update := bson.M{"$set": bson.M{
		"waybill":     waybill,
		"orderStatus": models.StatusShipped,
		"updatedAt":   s.now(),
	}}

	res, err := s.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("assign waybill to %s: %w", id.Hex(), err)
	}
	return res.MatchedCount == 1, nil
}

// ApplyTracking replaces the carrier status and scan history. When the
// update carries a status it is applied only if it ranks above the stored
// one; otherwise the tracking fields are still written. The bool reports
// whether the business status changed.
func (s *OrderStore) ApplyTracking(ctx context.Context, id primitive.ObjectID, u TrackingUpdate) (bool, error) {
	tracking := u.Tracking
	if tracking == nil {
		tracking = []models.TrackingEvent{}
	}
	set := bson.M{
		"delhiveryCurrentStatus": u.CarrierStatus,
		"orderTracking":          tracking,
		"updatedAt":              s.now(),
	}

	if below := statusesBelow(u.Status); len(below) > 0 {
		guarded := bson.M{}
		for k, v := range set {
			guarded[k] = v
		}
		guarded["orderStatus"] = u.Status
		if u.Status == models.StatusDelivered && u.DeliveredAt != nil {
			guarded["deliveredAt"] = *u.DeliveredAt
		}

		filter := bson.M{"_id": id, "orderStatus": bson.M{"$in": below}}
		res, err := s.coll.UpdateOne(ctx, filter, bson.M{"$set": guarded})
		if err != nil {
			return false, fmt.Errorf("apply tracking to %s: %w", id.Hex(), err)
		}
		if res.MatchedCount == 1 {
			return true, nil
		}
	}

	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return false, fmt.Errorf("apply tracking to %s: %w", id.Hex(), err)
	}
	if res.MatchedCount == 0 {
		return false, ErrNotFound
	}
	return false, nil
}

// SetPickup records pickup metadata. It never touches orderStatus.
func (s *OrderStore) SetPickup(ctx context.Context, id primitive.ObjectID, p PickupRecord) error {
	update := bson.M{"$set": bson.M{
		"pickupScheduled": true,
		"pickupDate":      p.Date,
		"pickupTime":      p.Time,
		"pickupRequestId": p.RequestID,
		"updatedAt":       s.now(),
	}}
	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("set pickup on %s: %w", id.Hex(), err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// SetStatus is the manual override. Delivered orders never move, Shipped
// requires a waybill, and Delivered stamps deliveredAt. It reports false
// when the guard rejected the change.
func (s *OrderStore) SetStatus(ctx context.Context, id primitive.ObjectID, status models.OrderStatus) (bool, error) {
	now := s.now()
	filter := bson.M{"_id": id, "orderStatus": bson.M{"$ne": models.StatusDelivered}}
	set := bson.M{"orderStatus": status, "updatedAt": now}

	switch status {
	case models.StatusShipped:
		filter["waybill"] = bson.M{"$exists": true, "$nin": bson.A{nil, ""}}
	case models.StatusDelivered:
		set["deliveredAt"] = now
	}

	res, err := s.coll.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return false, fmt.Errorf("set status on %s: %w", id.Hex(), err)
	}
	return res.MatchedCount == 1, nil
}

func (s *OrderStore) SetShiprocketOrderID(ctx context.Context, id primitive.ObjectID, shiprocketID string) error {
	update := bson.M{"$set": bson.M{"shiprocketOrderId": shiprocketID, "updatedAt": s.now()}}
	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("set shiprocket id on %s: %w", id.Hex(), err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// statusesBelow lists the statuses that may advance to target.
func statusesBelow(target models.OrderStatus) bson.A {
	var below bson.A
	for _, s := range []models.OrderStatus{models.StatusProcessing, models.StatusShipped, models.StatusDelivered} {
		if s.Rank() < target.Rank() {
			below = append(below, s)
		}
	}
	return below
}
