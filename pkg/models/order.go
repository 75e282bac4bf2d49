package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type OrderStatus string

const (
	StatusProcessing OrderStatus = "Processing"
	StatusShipped    OrderStatus = "Shipped"
	StatusDelivered  OrderStatus = "Delivered"
)

// Valid reports whether s is one of the business statuses.
func (s OrderStatus) Valid() bool {
	switch s {
	case StatusProcessing, StatusShipped, StatusDelivered:
		return true
	}
	return false
}

// Rank orders statuses along the normal lifecycle. Unknown statuses rank 0.
func (s OrderStatus) Rank() int {
	switch s {
	case StatusProcessing:
		return 1
	case StatusShipped:
		return 2
	case StatusDelivered:
		return 3
	}
	return 0
}

type PaymentMethod string

const (
	PaymentCOD    PaymentMethod = "COD"
	PaymentOnline PaymentMethod = "Online"
)

type ShippingInfo struct {
	Name    string `bson:"name" json:"name"`
	Address string `bson:"address" json:"address"`
	City    string `bson:"city" json:"city"`
	State   string `bson:"state" json:"state"`
	Country string `bson:"country" json:"country"`
	PinCode string `bson:"pinCode" json:"pinCode"`
	PhoneNo string `bson:"phoneNo" json:"phoneNo"`
}

type Customization struct {
	Text          string `bson:"text,omitempty" json:"text,omitempty"`
	UploadedImage string `bson:"uploadedImage,omitempty" json:"uploadedImage,omitempty"`
}

type OrderItem struct {
	Name          string             `bson:"name" json:"name"`
	Quantity      int                `bson:"quantity" json:"quantity"`
	Price         float64            `bson:"price" json:"price"`
	Image         string             `bson:"image,omitempty" json:"image,omitempty"`
	Product       primitive.ObjectID `bson:"product,omitempty" json:"product,omitempty"`
	Customization *Customization     `bson:"customization,omitempty" json:"customization,omitempty"`
}

type PaymentInfo struct {
	ID     string `bson:"id,omitempty" json:"id,omitempty"`
	Status string `bson:"status,omitempty" json:"status,omitempty"`
}

// TrackingEvent is one carrier scan. Timestamp is kept exactly as the
// carrier reported it.
type TrackingEvent struct {
	Status       string `bson:"status" json:"status"`
	Timestamp    string `bson:"timestamp" json:"timestamp"`
	Type         string `bson:"type" json:"type"`
	Location     string `bson:"location" json:"location"`
	Instructions string `bson:"instructions" json:"instructions"`
}

type Order struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"_id"`
	User           primitive.ObjectID `bson:"user,omitempty" json:"user,omitempty"`
	ShippingInfo   ShippingInfo       `bson:"shippingInfo" json:"shippingInfo"`
	OrderItems     []OrderItem        `bson:"orderItems" json:"orderItems"`
	PaymentMethod  PaymentMethod      `bson:"paymentMethod" json:"paymentMethod"`
	PaymentInfo    *PaymentInfo       `bson:"paymentInfo,omitempty" json:"paymentInfo,omitempty"`
	ItemsPrice     float64            `bson:"itemsPrice" json:"itemsPrice"`
	TaxAmount      float64            `bson:"taxAmount" json:"taxAmount"`
	ShippingAmount float64            `bson:"shippingAmount" json:"shippingAmount"`
	TotalAmount    float64            `bson:"totalAmount" json:"totalAmount"`
	OrderStatus    OrderStatus        `bson:"orderStatus" json:"orderStatus"`

	Waybill                string          `bson:"waybill,omitempty" json:"waybill,omitempty"`
	DelhiveryCurrentStatus string          `bson:"delhiveryCurrentStatus,omitempty" json:"delhiveryCurrentStatus,omitempty"`
	OrderTracking          []TrackingEvent `bson:"orderTracking,omitempty" json:"orderTracking,omitempty"`

	PickupScheduled bool   `bson:"pickupScheduled,omitempty" json:"pickupScheduled,omitempty"`
	PickupDate      string `bson:"pickupDate,omitempty" json:"pickupDate,omitempty"`
	PickupTime      string `bson:"pickupTime,omitempty" json:"pickupTime,omitempty"`
	PickupRequestID string `bson:"pickupRequestId,omitempty" json:"pickupRequestId,omitempty"`

	ShiprocketOrderID string `bson:"shiprocketOrderId,omitempty" json:"shiprocketOrderId,omitempty"`

	DeliveredAt *time.Time `bson:"deliveredAt,omitempty" json:"deliveredAt,omitempty"`
	CreatedAt   time.Time  `bson:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time  `bson:"updatedAt" json:"updatedAt"`
}

// HasWaybill reports whether a carrier shipment exists for the order.
func (o *Order) HasWaybill() bool {
	return o.Waybill != ""
}

// TotalQuantity sums item quantities.
func (o *Order) TotalQuantity() int {
	total := 0
	for _, item := range o.OrderItems {
		total += item.Quantity
	}
	return total
}
