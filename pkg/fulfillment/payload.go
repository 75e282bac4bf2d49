package fulfillment

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/example/orderdesk/pkg/carrier/delhivery"
	"github.com/example/orderdesk/pkg/models"
)

// destination is the part of an order the carrier cannot ship without.
type destination struct {
	Name     string `validate:"required"`
	Address  string `validate:"required"`
	PinCode  string `validate:"required,numeric,len=6"`
	Phone    string `validate:"required"`
	Quantity int    `validate:"gt=0"`
}

// buildShipmentRequest assembles the carrier payload for order. Weight is
// the configured unit weight times the total quantity, since products carry
// no weight of their own.
func (s *Service) buildShipmentRequest(order *models.Order) (*delhivery.ShipmentRequest, error) {
	const op = "shipment.create"
	info := order.ShippingInfo
	qty := order.TotalQuantity()

	for _, item := range order.OrderItems {
		if item.Quantity <= 0 {
			return nil, newError(KindValidation, op, order.ID.Hex(), "item "+item.Name+" has no quantity")
		}
	}
	if err := s.validate.Struct(destination{
		Name:     info.Name,
		Address:  info.Address,
		PinCode:  info.PinCode,
		Phone:    info.PhoneNo,
		Quantity: qty,
	}); err != nil {
		return nil, validationError(op, order.ID.Hex(), err)
	}

	total := decimal.NewFromFloat(order.TotalAmount).Round(2)
	paymentMode, codAmount := "Prepaid", "0"
	if order.PaymentMethod == models.PaymentCOD {
		paymentMode, codAmount = "COD", total.String()
	}

	names := make([]string, 0, len(order.OrderItems))
	for _, item := range order.OrderItems {
		names = append(names, item.Name)
	}

	orderDate := order.CreatedAt
	if orderDate.IsZero() {
		orderDate = s.now()
	}

	origin := s.shipment.Origin
	dims := s.shipment.Dimensions
	return &delhivery.ShipmentRequest{
		Shipments: []delhivery.Shipment{{
			Name:          info.Name,
			Add:           info.Address,
			Pin:           info.PinCode,
			City:          info.City,
			State:         info.State,
			Country:       info.Country,
			Phone:         info.PhoneNo,
			Order:         order.ID.Hex(),
			PaymentMode:   paymentMode,
			ReturnPin:     origin.Pin,
			ReturnCity:    origin.City,
			ReturnPhone:   origin.Phone,
			ReturnAdd:     origin.Address,
			ReturnState:   origin.State,
			ReturnCountry: origin.Country,
			ProductsDesc:  strings.Join(names, ", "),
			HSNCode:       s.shipment.HSNCode,
			CODAmount:     codAmount,
			OrderDate:     orderDate.Format("2006-01-02"),
			TotalAmount:   total.String(),
			SellerAdd:     s.shipment.SellerAddress,
			SellerName:    s.shipment.SellerName,
			SellerInv:     order.ID.Hex(),
			Quantity:      strconv.Itoa(qty),
			Length:        dims.LengthCM,
			Width:         dims.WidthCM,
			Height:        dims.HeightCM,
			Weight:        s.shipment.UnitWeightGrams * float64(qty),
			ShippingMode:  s.shipment.ShippingMode,
			AddressType:   s.shipment.AddressType,
		}},
		PickupLocation: delhivery.PickupLocation{Name: s.pickupLocation},
	}, nil
}
