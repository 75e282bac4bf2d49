// Package carrier holds the failure taxonomy shared by the carrier clients.
// Clients turn every odd response shape into one of these kinds so callers
// never inspect raw payloads.
package carrier

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

type Kind int

const (
	// KindRejected is an explicit refusal by the carrier (bad pincode,
	// wallet balance, duplicate order id). Retrying will not help.
	KindRejected Kind = iota + 1
	// KindAnomaly is a response that claims success but cannot be used,
	// e.g. an accepted shipment without a waybill.
	KindAnomaly
	// KindTransient covers timeouts, connection errors, 5xx and an open
	// circuit. The whole operation is safe to retry.
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindRejected:
		return "rejected"
	case KindAnomaly:
		return "anomaly"
	case KindTransient:
		return "transient"
	}
	return "unknown"
}

type Error struct {
	Kind    Kind
	Op      string
	Message string
	// Remarks are the carrier's own diagnostic strings, verbatim.
	Remarks []string
	// Raw is the response body when it helps an operator.
	Raw string
	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(e.Kind.String())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Remarks) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Remarks, "; "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Rejected(op string, remarks []string, raw string) *Error {
	return &Error{Kind: KindRejected, Op: op, Remarks: remarks, Raw: raw}
}

func Anomaly(op, message, raw string) *Error {
	return &Error{Kind: KindAnomaly, Op: op, Message: message, Raw: raw}
}

func Transient(op string, err error) *Error {
	return &Error{Kind: KindTransient, Op: op, Err: err}
}

// As returns the carrier error in err's chain, if any.
func As(err error) (*Error, bool) {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr, true
	}
	return nil, false
}

// IsTransportError reports whether err came from the network layer or a
// deadline rather than from a carrier response.
func IsTransportError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// StatusError describes an HTTP status the client could not interpret.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}
