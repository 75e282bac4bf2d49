// Package shiprocket registers promoted orders with Shiprocket. It is an
// advisory integration: callers treat its failures as warnings.
package shiprocket

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/example/orderdesk/pkg/carrier"
	"github.com/example/orderdesk/pkg/config"
	"github.com/example/orderdesk/pkg/models"
)

const (
	opLogin       = "shiprocket.login"
	opCreateOrder = "shiprocket.create_order"
)

// TokenCache keeps the login token between requests and processes.
type TokenCache interface {
	GetToken(ctx context.Context, key string) (string, error)
	SetToken(ctx context.Context, key, token string, ttl time.Duration) error
}

type Client struct {
	cfg        *config.ShiprocketConfig
	shipment   *config.ShipmentConfig
	httpClient *http.Client
	tokens     TokenCache
	logger     *zap.Logger
}

func NewClient(cfg *config.ShiprocketConfig, shipment *config.ShipmentConfig, tokens TokenCache, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		cfg:        cfg,
		shipment:   shipment,
		httpClient: &http.Client{Timeout: timeout},
		tokens:     tokens,
		logger:     logger,
	}
}

func (c *Client) tokenKey() string {
	return "shiprocket:token:" + strings.ToLower(c.cfg.Email)
}

func (c *Client) token(ctx context.Context) (string, error) {
	if c.tokens != nil {
		token, err := c.tokens.GetToken(ctx, c.tokenKey())
		if err != nil {
			c.logger.Warn("Token cache read failed", zap.Error(err))
		} else if token != "" {
			return token, nil
		}
	}

	body, err := json.Marshal(map[string]string{"email": c.cfg.Email, "password": c.cfg.Password})
	if err != nil {
		return "", err
	}
	status, data, err := c.send(ctx, opLogin, "/v1/external/auth/login", "", body)
	if err != nil {
		return "", err
	}

	var parsed struct {
		Token   string `json:"token"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil || status >= 300 || parsed.Token == "" {
		msg := parsed.Message
		if msg == "" {
			msg = fmt.Sprintf("HTTP %d", status)
		}
		return "", carrier.Rejected(opLogin, []string{msg}, truncate(string(data), 512))
	}

	if c.tokens != nil {
		if err := c.tokens.SetToken(ctx, c.tokenKey(), parsed.Token, c.cfg.TokenTTL); err != nil {
			c.logger.Warn("Token cache write failed", zap.Error(err))
		}
	}
	return parsed.Token, nil
}

type orderItem struct {
	Name         string `json:"name"`
	SKU          string `json:"sku"`
	Units        int    `json:"units"`
	SellingPrice string `json:"selling_price"`
	HSN          string `json:"hsn,omitempty"`
}

type adhocOrder struct {
	OrderID              string      `json:"order_id"`
	OrderDate            string      `json:"order_date"`
	PickupLocation       string      `json:"pickup_location"`
	BillingCustomerName  string      `json:"billing_customer_name"`
	BillingLastName      string      `json:"billing_last_name"`
	BillingAddress       string      `json:"billing_address"`
	BillingCity          string      `json:"billing_city"`
	BillingPincode       string      `json:"billing_pincode"`
	BillingState         string      `json:"billing_state"`
	BillingCountry       string      `json:"billing_country"`
	BillingPhone         string      `json:"billing_phone"`
	ShippingIsBilling    bool        `json:"shipping_is_billing"`
	OrderItems           []orderItem `json:"order_items"`
	PaymentMethod        string      `json:"payment_method"`
	SubTotal             string      `json:"sub_total"`
	Length               float64     `json:"length"`
	Breadth              float64     `json:"breadth"`
	Height               float64     `json:"height"`
	Weight               float64     `json:"weight"`
}

func (c *Client) buildOrder(order *models.Order) *adhocOrder {
	first, last := splitName(order.ShippingInfo.Name)
	items := make([]orderItem, 0, len(order.OrderItems))
	for i, item := range order.OrderItems {
		sku := item.Product.Hex()
		if item.Product.IsZero() {
			sku = fmt.Sprintf("%s-%d", order.ID.Hex(), i+1)
		}
		items = append(items, orderItem{
			Name:         item.Name,
			SKU:          sku,
			Units:        item.Quantity,
			SellingPrice: decimal.NewFromFloat(item.Price).String(),
			HSN:          c.shipment.HSNCode,
		})
	}

	payment := "Prepaid"
	if order.PaymentMethod == models.PaymentCOD {
		payment = "COD"
	}
	weightKg := decimal.NewFromFloat(c.shipment.UnitWeightGrams).
		Mul(decimal.NewFromInt(int64(order.TotalQuantity()))).
		Div(decimal.NewFromInt(1000)).InexactFloat64()

	return &adhocOrder{
		OrderID:             order.ID.Hex(),
		OrderDate:           order.CreatedAt.Format("2006-01-02 15:04"),
		PickupLocation:      c.cfg.PickupLocation,
		BillingCustomerName: first,
		BillingLastName:     last,
		BillingAddress:      order.ShippingInfo.Address,
		BillingCity:         order.ShippingInfo.City,
		BillingPincode:      order.ShippingInfo.PinCode,
		BillingState:        order.ShippingInfo.State,
		BillingCountry:      order.ShippingInfo.Country,
		BillingPhone:        order.ShippingInfo.PhoneNo,
		ShippingIsBilling:   true,
		OrderItems:          items,
		PaymentMethod:       payment,
		SubTotal:            decimal.NewFromFloat(order.TotalAmount).String(),
		Length:              c.shipment.Dimensions.LengthCM,
		Breadth:             c.shipment.Dimensions.WidthCM,
		Height:              c.shipment.Dimensions.HeightCM,
		Weight:              weightKg,
	}
}

// RegisterOrder creates an adhoc order and returns Shiprocket's order id.
func (c *Client) RegisterOrder(ctx context.Context, order *models.Order) (string, error) {
	token, err := c.token(ctx)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(c.buildOrder(order))
	if err != nil {
		return "", fmt.Errorf("%s: encode request: %w", opCreateOrder, err)
	}
	status, data, err := c.send(ctx, opCreateOrder, "/v1/external/orders/create/adhoc", token, body)
	if err != nil {
		return "", err
	}

	if status == http.StatusUnauthorized && c.tokens != nil {
		// Drop the stale token so the next call logs in again.
		_ = c.tokens.SetToken(ctx, c.tokenKey(), "", time.Second)
	}

	raw := truncate(string(data), 1024)
	var parsed struct {
		OrderID    any    `json:"order_id"`
		ShipmentID any    `json:"shipment_id"`
		Status     string `json:"status"`
		Message    string `json:"message"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", carrier.Anomaly(opCreateOrder, "unparseable create response", raw)
	}
	if status >= 300 {
		msg := parsed.Message
		if msg == "" {
			msg = fmt.Sprintf("HTTP %d", status)
		}
		return "", carrier.Rejected(opCreateOrder, []string{msg}, raw)
	}
	id := idString(parsed.OrderID)
	if id == "" {
		return "", carrier.Anomaly(opCreateOrder, "order accepted without an order id", raw)
	}
	return id, nil
}

func (c *Client) send(ctx context.Context, op, path, token string, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, carrier.Transient(op, err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return 0, nil, carrier.Transient(op, err)
	}
	if res.StatusCode >= 500 || res.StatusCode == http.StatusTooManyRequests {
		return 0, nil, carrier.Transient(op, &carrier.StatusError{Code: res.StatusCode, Body: truncate(string(data), 512)})
	}
	return res.StatusCode, data, nil
}

// idString accepts ids sent either as JSON numbers or strings.
func idString(v any) string {
	switch id := v.(type) {
	case string:
		return strings.TrimSpace(id)
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	}
	return ""
}

func splitName(full string) (string, string) {
	parts := strings.Fields(full)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
