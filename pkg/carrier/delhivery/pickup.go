package delhivery

import (
	"context"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/example/orderdesk/pkg/carrier"
)

const opSchedulePickup = "delhivery.schedule_pickup"

// PickupRequest asks for a pickup slot. Date is YYYY-MM-DD and Time is the
// slot start as HH:mm.
type PickupRequest struct {
	PickupLocation       string `json:"pickup_location"`
	PickupDate           string `json:"pickup_date"`
	PickupTime           string `json:"pickup_time"`
	ExpectedPackageCount int    `json:"expected_package_count"`
}

type PickupResult struct {
	RequestID  string
	Date       string
	Time       string
	CenterName string
}

type pickupResponse struct {
	PickupID   flexString      `json:"pickup_id"`
	PickupDate string          `json:"pickup_date"`
	PickupTime string          `json:"pickup_time"`
	CenterName string          `json:"incoming_center_name"`
	PrExist    bool            `json:"pr_exist"`
	Success    *bool           `json:"success"`
	Error      json.RawMessage `json:"error"`
	Message    string          `json:"message"`
}

// SchedulePickup requests a pickup. Any response without a pickup id is a
// rejection, and the carrier's payload is kept verbatim in Raw so an
// operator sees e.g. the wallet-balance message as sent.
func (c *Client) SchedulePickup(ctx context.Context, req *PickupRequest) (*PickupResult, error) {
	if req == nil || req.PickupLocation == "" || req.PickupDate == "" || req.PickupTime == "" || req.ExpectedPackageCount < 1 {
		return nil, fmt.Errorf("%w: pickup location, date, time and package count are required", ErrInvalidRequest)
	}

	resp, err := c.postJSON(ctx, opSchedulePickup, "/fm/request/new/", req)
	if err != nil {
		return nil, err
	}

	raw := truncate(string(resp.body), 4096)
	var parsed pickupResponse
	if err := json.Unmarshal(resp.body, &parsed); err != nil {
		if !resp.ok() {
			return nil, carrier.Rejected(opSchedulePickup, []string{raw}, raw)
		}
		return nil, carrier.Anomaly(opSchedulePickup, "unparseable pickup response", raw)
	}

	if !resp.ok() || parsed.PickupID == "" || (parsed.Success != nil && !*parsed.Success) {
		return nil, carrier.Rejected(opSchedulePickup, pickupRemarks(&parsed, raw), raw)
	}

	return &PickupResult{
		RequestID:  string(parsed.PickupID),
		Date:       parsed.PickupDate,
		Time:       parsed.PickupTime,
		CenterName: parsed.CenterName,
	}, nil
}

func pickupRemarks(parsed *pickupResponse, raw string) []string {
	var remarks []string
	if parsed.PrExist {
		remarks = append(remarks, "a pickup request already exists for this slot")
	}
	if errText := string(parsed.Error); errText != "" && errText != "null" && errText != "false" {
		var msg string
		var obj struct {
			Message string `json:"message"`
		}
		switch {
		case json.Unmarshal(parsed.Error, &msg) == nil && msg != "":
			remarks = append(remarks, msg)
		case json.Unmarshal(parsed.Error, &obj) == nil && obj.Message != "":
			remarks = append(remarks, obj.Message)
		default:
			remarks = append(remarks, strings.TrimSpace(string(parsed.Error)))
		}
	}
	if parsed.Message != "" {
		remarks = append(remarks, parsed.Message)
	}
	if len(remarks) == 0 {
		remarks = append(remarks, raw)
	}
	return remarks
}
