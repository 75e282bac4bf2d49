package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrderStatusRank(t *testing.T) {
	assert.Less(t, StatusProcessing.Rank(), StatusShipped.Rank())
	assert.Less(t, StatusShipped.Rank(), StatusDelivered.Rank())
	assert.Equal(t, 0, OrderStatus("Cancelled").Rank())
	assert.False(t, OrderStatus("Cancelled").Valid())
	assert.True(t, StatusDelivered.Valid())
}

func TestOrderTotalQuantity(t *testing.T) {
	o := &Order{OrderItems: []OrderItem{{Quantity: 1}, {Quantity: 2}}}
	assert.Equal(t, 3, o.TotalQuantity())
	assert.False(t, o.HasWaybill())
	o.Waybill = "WB1"
	assert.True(t, o.HasWaybill())
}

func TestShippingInfoMatchKey(t *testing.T) {
	a := ShippingInfo{PhoneNo: "98765 43210", PinCode: "110001", Address: "12  MG Road"}
	b := ShippingInfo{PhoneNo: "98765 43210", PinCode: "110001", Address: "12 mg road", Name: "someone else"}
	c := ShippingInfo{PhoneNo: "98765 43210", PinCode: "110002", Address: "12 mg road"}

	assert.Equal(t, a.MatchKey(), b.MatchKey())
	assert.NotEqual(t, a.MatchKey(), c.MatchKey())
}
