package delhivery

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/example/orderdesk/pkg/carrier"
)

const opPackingSlip = "delhivery.packing_slip"

var pdfMagic = []byte("%PDF-")

// Keys under which the carrier has been seen to put base64 PDF content.
var packingSlipKeys = []string{"pdf_encoding", "pdf", "pdf_content", "packing_slip", "data"}

// FetchPackingSlip returns the label PDF for a waybill. The carrier answers
// with either raw PDF bytes or a JSON envelope holding base64 content.
func (c *Client) FetchPackingSlip(ctx context.Context, waybill string) ([]byte, error) {
	if waybill == "" {
		return nil, fmt.Errorf("%w: waybill is required", ErrInvalidRequest)
	}

	query := url.Values{}
	query.Set("wbns", waybill)
	query.Set("pdf", "true")

	resp, err := c.do(ctx, opPackingSlip, http.MethodGet, "/api/p/packing_slip", query, "", nil)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		raw := truncate(string(resp.body), 1024)
		return nil, carrier.Rejected(opPackingSlip, []string{fmt.Sprintf("HTTP %d", resp.status)}, raw)
	}
	return decodePackingSlip(resp.body)
}

// decodePackingSlip checks for PDF magic before trying JSON so a binary
// body never reaches the JSON decoder.
func decodePackingSlip(body []byte) ([]byte, error) {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if bytes.HasPrefix(trimmed, pdfMagic) {
		return body, nil
	}

	unrecognized := func() error {
		return carrier.Anomaly(opPackingSlip, "unrecognized packing slip format", truncate(string(body), 512))
	}

	var envelope map[string]any
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, unrecognized()
	}

	if pdf, ok := findPDF(envelope); ok {
		return pdf, nil
	}
	if pkgs, ok := envelope["packages"].([]any); ok && len(pkgs) > 0 {
		if first, ok := pkgs[0].(map[string]any); ok {
			if pdf, ok := findPDF(first); ok {
				return pdf, nil
			}
		}
	}
	return nil, unrecognized()
}

func findPDF(m map[string]any) ([]byte, bool) {
	for _, key := range packingSlipKeys {
		s, ok := m[key].(string)
		if !ok || s == "" {
			continue
		}
		if i := strings.Index(s, "base64,"); i >= 0 && strings.HasPrefix(s, "data:") {
			s = s[i+len("base64,"):]
		}
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			decoded, err = base64.RawStdEncoding.DecodeString(s)
		}
		if err == nil && bytes.HasPrefix(decoded, pdfMagic) {
			return decoded, true
		}
	}
	return nil, false
}
