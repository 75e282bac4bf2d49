package fulfillment

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/example/orderdesk/pkg/carrier"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	// KindConflict is returned for an order that already has a waybill. Callers
	// treat it as "already shipped", not as a server failure.
	KindConflict
	KindRejected
	KindAnomaly
	KindTransient
	KindUnauthorized
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindRejected:
		return "carrier_rejected"
	case KindAnomaly:
		return "carrier_anomaly"
	case KindTransient:
		return "transient"
	case KindUnauthorized:
		return "unauthorized"
	}
	return "internal"
}

// Error is what every orchestrator returns. Remarks and Detail carry the
// carrier's diagnostics verbatim so operators can act on them.
type Error struct {
	Kind    Kind
	Op      string
	OrderID string
	Message string
	Remarks []string
	Detail  string
	// Fields maps request field names to validation failures.
	Fields map[string]string
	// Waybill is set on conflicts caused by an existing shipment.
	Waybill string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.OrderID != "" {
		b.WriteString(" order ")
		b.WriteString(e.OrderID)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
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

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var ferr *Error
	if errors.As(err, &ferr) {
		return ferr.Kind
	}
	return KindInternal
}

func AsError(err error) (*Error, bool) {
	var ferr *Error
	ok := errors.As(err, &ferr)
	return ferr, ok
}

func IsConflict(err error) bool {
	return KindOf(err) == KindConflict
}

func newError(kind Kind, op, orderID, message string) *Error {
	return &Error{Kind: kind, Op: op, OrderID: orderID, Message: message}
}

func internalError(op, orderID string, err error) *Error {
	return &Error{Kind: KindInternal, Op: op, OrderID: orderID, Message: "internal error", Err: err}
}

// validationError flattens validator output into field-level messages.
func validationError(op, orderID string, err error) *Error {
	verr := newError(KindValidation, op, orderID, "invalid request")
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		verr.Message = err.Error()
		return verr
	}
	verr.Fields = make(map[string]string, len(fieldErrs))
	names := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msg := fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		verr.Fields[fe.Field()] = msg
		names = append(names, fe.Field())
	}
	verr.Message = "invalid " + strings.Join(names, ", ")
	return verr
}

// fromCarrier translates a carrier client failure. Any error that is not a
// carrier.Error is a local bug or bad input and becomes internal.
func fromCarrier(op, orderID string, err error) *Error {
	cerr, ok := carrier.As(err)
	if !ok {
		return internalError(op, orderID, err)
	}
	out := &Error{Op: op, OrderID: orderID, Remarks: cerr.Remarks, Detail: cerr.Raw, Err: err}
	switch cerr.Kind {
	case carrier.KindRejected:
		out.Kind = KindRejected
		out.Message = "carrier rejected the request"
	case carrier.KindAnomaly:
		out.Kind = KindAnomaly
		out.Message = cerr.Message
		if out.Message == "" {
			out.Message = "carrier returned an unusable response"
		}
	default:
		out.Kind = KindTransient
		out.Message = fmt.Sprintf("carrier unavailable (%s), safe to retry", cerr.Op)
	}
	return out
}
