package delhivery

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/example/orderdesk/pkg/carrier"
)

const opCreateShipment = "delhivery.create_shipment"

// Shipment is one package line in the CMU create payload. Field names
// follow the carrier's wire format.
type Shipment struct {
	Name          string  `json:"name"`
	Add           string  `json:"add"`
	Pin           string  `json:"pin"`
	City          string  `json:"city"`
	State         string  `json:"state"`
	Country       string  `json:"country"`
	Phone         string  `json:"phone"`
	Order         string  `json:"order"`
	PaymentMode   string  `json:"payment_mode"`
	ReturnPin     string  `json:"return_pin"`
	ReturnCity    string  `json:"return_city"`
	ReturnPhone   string  `json:"return_phone"`
	ReturnAdd     string  `json:"return_add"`
	ReturnState   string  `json:"return_state"`
	ReturnCountry string  `json:"return_country"`
	ProductsDesc  string  `json:"products_desc"`
	HSNCode       string  `json:"hsn_code"`
	CODAmount     string  `json:"cod_amount"`
	OrderDate     string  `json:"order_date"`
	TotalAmount   string  `json:"total_amount"`
	SellerAdd     string  `json:"seller_add"`
	SellerName    string  `json:"seller_name"`
	SellerInv     string  `json:"seller_inv"`
	Quantity      string  `json:"quantity"`
	Waybill       string  `json:"waybill"`
	Length        float64 `json:"shipment_length"`
	Width         float64 `json:"shipment_width"`
	Height        float64 `json:"shipment_height"`
	Weight        float64 `json:"weight"`
	ShippingMode  string  `json:"shipping_mode"`
	AddressType   string  `json:"address_type"`
}

type PickupLocation struct {
	Name string `json:"name"`
}

type ShipmentRequest struct {
	Shipments      []Shipment     `json:"shipments"`
	PickupLocation PickupLocation `json:"pickup_location"`
}

// ShipmentResult is a shipment the carrier accepted with a waybill.
type ShipmentResult struct {
	Waybill   string
	RefNum    string
	UploadWBN string
}

type createPackage struct {
	Status  string     `json:"status"`
	Waybill flexString `json:"waybill"`
	RefNum  flexString `json:"refnum"`
	Remarks remarkList `json:"remarks"`
}

type createResponse struct {
	Success   *bool           `json:"success"`
	Rmk       remarkList      `json:"rmk"`
	Error     remarkList      `json:"error"`
	Packages  []createPackage `json:"packages"`
	UploadWBN flexString      `json:"upload_wbn"`
}

// CreateShipment submits the manifest. The carrier wants a form field
// named data holding the JSON document.
func (c *Client) CreateShipment(ctx context.Context, req *ShipmentRequest) (*ShipmentResult, error) {
	if c.token == "" {
		return nil, fmt.Errorf("%w: missing api token", ErrInvalidRequest)
	}
	if req == nil || len(req.Shipments) == 0 {
		return nil, fmt.Errorf("%w: at least one shipment is required", ErrInvalidRequest)
	}
	if req.PickupLocation.Name == "" {
		return nil, fmt.Errorf("%w: pickup location is required", ErrInvalidRequest)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%s: encode request: %w", opCreateShipment, err)
	}
	form := url.Values{}
	form.Set("format", "json")
	form.Set("data", string(payload))

	resp, err := c.do(ctx, opCreateShipment, http.MethodPost, "/api/cmu/create.json", nil,
		"application/x-www-form-urlencoded", []byte(form.Encode()))
	if err != nil {
		return nil, err
	}
	return interpretCreate(resp)
}

// interpretCreate checks per-package status independently of the top-level
// success flag because the carrier sets them inconsistently.
func interpretCreate(resp *response) (*ShipmentResult, error) {
	raw := truncate(string(resp.body), 2048)

	var parsed createResponse
	if err := json.Unmarshal(resp.body, &parsed); err != nil {
		if !resp.ok() {
			return nil, carrier.Rejected(opCreateShipment, []string{fmt.Sprintf("HTTP %d", resp.status)}, raw)
		}
		return nil, carrier.Anomaly(opCreateShipment, "unparseable create response", raw)
	}

	var failRemarks []string
	failed := false
	var accepted *createPackage
	for i := range parsed.Packages {
		pkg := &parsed.Packages[i]
		switch {
		case strings.EqualFold(pkg.Status, "fail"):
			failed = true
			failRemarks = append(failRemarks, pkg.Remarks...)
		case strings.EqualFold(pkg.Status, "success") && accepted == nil:
			accepted = pkg
		}
	}

	topFailed := !resp.ok() || (parsed.Success != nil && !*parsed.Success)
	if failed || (topFailed && accepted == nil) {
		remarks := failRemarks
		if len(remarks) == 0 {
			remarks = append(remarks, parsed.Rmk...)
		}
		if len(remarks) == 0 {
			remarks = append(remarks, parsed.Error...)
		}
		if len(remarks) == 0 {
			remarks = []string{"shipment rejected by carrier"}
		}
		return nil, carrier.Rejected(opCreateShipment, remarks, raw)
	}

	if accepted == nil || accepted.Waybill == "" {
		return nil, carrier.Anomaly(opCreateShipment, "carrier accepted the shipment but returned no waybill", raw)
	}

	return &ShipmentResult{
		Waybill:   string(accepted.Waybill),
		RefNum:    string(accepted.RefNum),
		UploadWBN: string(parsed.UploadWBN),
	}, nil
}
