package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/orderdesk/pkg/fulfillment"
)

func httpStatus(kind fulfillment.Kind) int {
	switch kind {
	case fulfillment.KindValidation:
		return http.StatusBadRequest
	case fulfillment.KindUnauthorized:
		return http.StatusUnauthorized
	case fulfillment.KindNotFound:
		return http.StatusNotFound
	case fulfillment.KindConflict:
		return http.StatusConflict
	case fulfillment.KindRejected:
		return http.StatusUnprocessableEntity
	case fulfillment.KindAnomaly:
		return http.StatusBadGateway
	case fulfillment.KindTransient:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeError renders a fulfillment error. Carrier remarks and the raw
// carrier payload are passed through so operators see what the carrier
// said; internal errors are logged and hidden.
func (g *Gateway) writeError(c *gin.Context, err error) {
	ferr, ok := fulfillment.AsError(err)
	if !ok || ferr.Kind == fulfillment.KindInternal {
		g.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.String("request_id", c.GetString(requestIDHeader)),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	body := gin.H{
		"error": ferr.Message,
		"kind":  ferr.Kind.String(),
	}
	if len(ferr.Remarks) > 0 {
		body["remarks"] = ferr.Remarks
	}
	if ferr.Detail != "" {
		body["detail"] = ferr.Detail
	}
	if len(ferr.Fields) > 0 {
		body["fields"] = ferr.Fields
	}
	if ferr.Kind == fulfillment.KindConflict && ferr.Waybill != "" {
		body["alreadyShipped"] = true
		body["waybill"] = ferr.Waybill
	}
	c.JSON(httpStatus(ferr.Kind), body)
}
