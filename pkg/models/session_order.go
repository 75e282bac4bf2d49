package models

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// SessionStartedOrder is written when checkout begins and removed once it
// has been promoted to an Order.
type SessionStartedOrder struct {
	ID                    primitive.ObjectID `bson:"_id,omitempty" json:"_id"`
	User                  primitive.ObjectID `bson:"user,omitempty" json:"user,omitempty"`
	ShippingInfo          ShippingInfo       `bson:"shippingInfo" json:"shippingInfo"`
	OrderItems            []OrderItem        `bson:"orderItems" json:"orderItems"`
	ItemsPrice            float64            `bson:"itemsPrice" json:"itemsPrice"`
	TotalAmount           float64            `bson:"totalAmount" json:"totalAmount"`
	RazorpayOrderID       string             `bson:"razorpayOrderId,omitempty" json:"razorpayOrderId,omitempty"`
	RazorpayPaymentStatus string             `bson:"razorpayPaymentStatus,omitempty" json:"razorpayPaymentStatus,omitempty"`
	CreatedAt             time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt             time.Time          `bson:"updatedAt" json:"updatedAt"`
}

// MatchKey identifies a recipient loosely enough to spot a session that
// already became an order. Case and whitespace differences are ignored.
func (s ShippingInfo) MatchKey() string {
	norm := func(v string) string {
		return strings.Join(strings.Fields(strings.ToLower(v)), " ")
	}
	return norm(s.PhoneNo) + "|" + norm(s.PinCode) + "|" + norm(s.Address)
}
