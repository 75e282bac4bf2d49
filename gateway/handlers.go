package gateway

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/orderdesk/pkg/carrier/delhivery"
	"github.com/example/orderdesk/pkg/fulfillment"
	"github.com/example/orderdesk/pkg/models"
)

const maxWebhookBody = 1 << 20

func (g *Gateway) getOrder(c *gin.Context) {
	order, err := g.svc.Order(c.Request.Context(), c.Param("id"))
	if err != nil {
		g.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (g *Gateway) orderHistory(c *gin.Context) {
	logs, err := g.svc.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		g.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": logs})
}

func (g *Gateway) createShipment(c *gin.Context) {
	out, err := g.svc.CreateShipment(c.Request.Context(), callerFrom(c), c.Param("id"))
	if err != nil {
		g.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, out)
}

func (g *Gateway) createShipmentInternal(c *gin.Context) {
	caller := callerFrom(c)
	if service := c.GetHeader("X-Caller-Service"); service != "" {
		caller.Actor = service
	}
	out, err := g.svc.CreateShipment(c.Request.Context(), caller, c.Param("id"))
	if err != nil {
		g.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, out)
}

func (g *Gateway) syncTracking(c *gin.Context) {
	var (
		summary *fulfillment.Summary
		err     error
	)
	if waybill := c.Query("waybill"); waybill != "" {
		summary, err = g.svc.ReconcileWaybill(c.Request.Context(), waybill)
	} else {
		summary, err = g.svc.ReconcileAll(c.Request.Context())
	}
	if err != nil {
		g.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (g *Gateway) schedulePickup(c *gin.Context) {
	var in fulfillment.PickupInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	out, err := g.svc.SchedulePickup(c.Request.Context(), callerFrom(c), c.Param("id"), in)
	if err != nil {
		g.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (g *Gateway) packingSlip(c *gin.Context) {
	id := c.Param("id")
	pdf, err := g.svc.PackingSlip(c.Request.Context(), id)
	if err != nil {
		g.writeError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="packing-slip-`+id+`.pdf"`)
	c.Data(http.StatusOK, "application/pdf", pdf)
}

type statusRequest struct {
	OrderStatus models.OrderStatus `json:"orderStatus" binding:"required"`
}

func (g *Gateway) updateOrderStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	order, err := g.svc.SetOrderStatus(c.Request.Context(), callerFrom(c), c.Param("id"), req.OrderStatus)
	if err != nil {
		g.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (g *Gateway) listPendingSessions(c *gin.Context) {
	sessions, err := g.svc.PendingSessions(c.Request.Context())
	if err != nil {
		g.writeError(c, err)
		return
	}
	if sessions == nil {
		sessions = []*models.SessionStartedOrder{}
	}
	c.JSON(http.StatusOK, gin.H{
		"sessionOrders": sessions,
		"total":         len(sessions),
	})
}

func (g *Gateway) promoteSession(c *gin.Context) {
	g.promote(c, c.Param("id"))
}

type checkoutEvent struct {
	SessionOrderID string `json:"sessionOrderId" binding:"required"`
}

func (g *Gateway) checkoutCompleted(c *gin.Context) {
	var evt checkoutEvent
	if err := c.ShouldBindJSON(&evt); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	g.promote(c, evt.SessionOrderID)
}

func (g *Gateway) promote(c *gin.Context, sessionID string) {
	res, err := g.svc.PromoteSession(c.Request.Context(), callerFrom(c), sessionID)
	if err != nil {
		g.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// delhiveryPush acknowledges pushes for waybills we do not know, so the
// carrier stops retrying them.
func (g *Gateway) delhiveryPush(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	update, err := delhivery.ParsePushUpdate(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	summary, err := g.svc.HandleTrackingPush(c.Request.Context(), update)
	if fulfillment.KindOf(err) == fulfillment.KindNotFound {
		g.logger.Info("Push for unknown waybill ignored", zap.String("waybill", update.Shipment.AWB))
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	if err != nil {
		g.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}
