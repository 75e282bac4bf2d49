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

const opTrackShipment = "delhivery.track_shipment"

// ShipmentStatus is the carrier's current status block, in its own
// vocabulary.
type ShipmentStatus struct {
	Status         string `json:"Status"`
	StatusDateTime string `json:"StatusDateTime"`
	StatusType     string `json:"StatusType"`
	StatusLocation string `json:"StatusLocation"`
	Instructions   string `json:"Instructions"`
}

type ScanDetail struct {
	Scan            string `json:"Scan"`
	ScanDateTime    string `json:"ScanDateTime"`
	ScanType        string `json:"ScanType"`
	ScannedLocation string `json:"ScannedLocation"`
	Instructions    string `json:"Instructions"`
}

type TrackedShipment struct {
	AWB         string
	ReferenceNo string
	Status      ShipmentStatus
	Scans       []ScanDetail
}

// TrackingResult holds raw scan history. Shipments is empty when the
// carrier has no data for the waybill yet; Remark carries its message.
type TrackingResult struct {
	Shipments []TrackedShipment
	Remark    string
}

type trackingResponse struct {
	ShipmentData []struct {
		Shipment struct {
			AWB         flexString     `json:"AWB"`
			ReferenceNo flexString     `json:"ReferenceNo"`
			Status      ShipmentStatus `json:"Status"`
			Scans       []struct {
				ScanDetail ScanDetail `json:"ScanDetail"`
			} `json:"Scans"`
		} `json:"Shipment"`
	} `json:"ShipmentData"`
	Error remarkList `json:"Error"`
}

// TrackShipment fetches the scan history for a waybill. refIDs may be
// empty.
func (c *Client) TrackShipment(ctx context.Context, waybill string, refIDs ...string) (*TrackingResult, error) {
	if waybill == "" {
		return nil, fmt.Errorf("%w: waybill is required", ErrInvalidRequest)
	}

	query := url.Values{}
	query.Set("waybill", waybill)
	if len(refIDs) > 0 {
		query.Set("ref_ids", strings.Join(refIDs, ","))
	}

	resp, err := c.do(ctx, opTrackShipment, http.MethodGet, "/api/v1/packages/json/", query, "", nil)
	if err != nil {
		return nil, err
	}

	raw := truncate(string(resp.body), 2048)
	if !resp.ok() {
		return nil, carrier.Rejected(opTrackShipment, []string{fmt.Sprintf("HTTP %d", resp.status)}, raw)
	}

	var parsed trackingResponse
	if err := json.Unmarshal(resp.body, &parsed); err != nil {
		return nil, carrier.Anomaly(opTrackShipment, "unparseable tracking response", raw)
	}

	result := &TrackingResult{Shipments: make([]TrackedShipment, 0, len(parsed.ShipmentData))}
	if len(parsed.Error) > 0 {
		result.Remark = strings.Join(parsed.Error, "; ")
	}
	for _, data := range parsed.ShipmentData {
		s := data.Shipment
		tracked := TrackedShipment{
			AWB:         string(s.AWB),
			ReferenceNo: string(s.ReferenceNo),
			Status:      s.Status,
			Scans:       make([]ScanDetail, 0, len(s.Scans)),
		}
		for _, scan := range s.Scans {
			tracked.Scans = append(tracked.Scans, scan.ScanDetail)
		}
		result.Shipments = append(result.Shipments, tracked)
	}
	return result, nil
}

// Find returns the shipment for waybill, falling back to the only
// shipment when the carrier omitted the AWB.
func (r *TrackingResult) Find(waybill string) (*TrackedShipment, bool) {
	for i := range r.Shipments {
		if r.Shipments[i].AWB == waybill {
			return &r.Shipments[i], true
		}
	}
	if len(r.Shipments) == 1 && r.Shipments[0].AWB == "" {
		return &r.Shipments[0], true
	}
	return nil, false
}

// PushUpdate is the body of a carrier status webhook.
type PushUpdate struct {
	Shipment struct {
		AWB         string         `json:"AWB"`
		ReferenceNo string         `json:"ReferenceNo"`
		Status      ShipmentStatus `json:"Status"`
	} `json:"Shipment"`
}

// ParsePushUpdate decodes a webhook body and requires an AWB.
func ParsePushUpdate(body []byte) (*PushUpdate, error) {
	var update PushUpdate
	if err := json.Unmarshal(body, &update); err != nil {
		return nil, fmt.Errorf("%w: decode push update: %v", ErrInvalidRequest, err)
	}
	if update.Shipment.AWB == "" {
		return nil, fmt.Errorf("%w: push update without AWB", ErrInvalidRequest)
	}
	return &update, nil
}
