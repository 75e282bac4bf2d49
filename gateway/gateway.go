package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/orderdesk/pkg/carrier/delhivery"
	"github.com/example/orderdesk/pkg/config"
	"github.com/example/orderdesk/pkg/fulfillment"
	"github.com/example/orderdesk/pkg/models"
	"github.com/example/orderdesk/pkg/repository"
)

// Fulfillment is everything the HTTP surface needs from the order core.
type Fulfillment interface {
	Order(ctx context.Context, orderID string) (*models.Order, error)
	CreateShipment(ctx context.Context, caller fulfillment.Caller, orderID string) (*fulfillment.ShipmentOutcome, error)
	ReconcileAll(ctx context.Context) (*fulfillment.Summary, error)
	ReconcileWaybill(ctx context.Context, waybill string) (*fulfillment.Summary, error)
	HandleTrackingPush(ctx context.Context, update *delhivery.PushUpdate) (*fulfillment.Summary, error)
	SchedulePickup(ctx context.Context, caller fulfillment.Caller, orderID string, in fulfillment.PickupInput) (*fulfillment.PickupOutcome, error)
	PromoteSession(ctx context.Context, caller fulfillment.Caller, sessionID string) (*fulfillment.PromotionResult, error)
	PackingSlip(ctx context.Context, orderID string) ([]byte, error)
	SetOrderStatus(ctx context.Context, caller fulfillment.Caller, orderID string, status models.OrderStatus) (*models.Order, error)
	PendingSessions(ctx context.Context) ([]*models.SessionStartedOrder, error)
	History(ctx context.Context, orderID string) ([]*repository.AuditLog, error)
}

type Gateway struct {
	config *config.Config
	svc    Fulfillment
	logger *zap.Logger
	router *gin.Engine
	server *http.Server
}

func NewGateway(cfg *config.Config, logger *zap.Logger, svc Fulfillment) *Gateway {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestID())
	router.Use(loggerMiddleware(logger))

	return &Gateway{
		config: cfg,
		svc:    svc,
		logger: logger,
		router: router,
	}
}

func (g *Gateway) SetupRoutes() {
	g.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := g.router.Group("/api/v1", adminAuth(g.config.Auth.AdminToken))
	{
		orders := v1.Group("/orders")
		{
			orders.POST("/sync", g.syncTracking)
			orders.GET("/:id", g.getOrder)
			orders.POST("/:id/shipment", g.createShipment)
			orders.POST("/:id/pickup", g.schedulePickup)
			orders.GET("/:id/packing-slip", g.packingSlip)
			orders.GET("/:id/history", g.orderHistory)
			orders.PUT("/:id/status", g.updateOrderStatus)
		}

		sessions := v1.Group("/session-orders")
		{
			sessions.GET("", g.listPendingSessions)
			sessions.POST("/:id/promote", g.promoteSession)
		}
	}

	internal := g.router.Group("/internal", sharedSecret(internalSecretHeader, g.config.Auth.InternalSecret))
	{
		internal.POST("/orders/:id/shipment", g.createShipmentInternal)
	}

	webhooks := g.router.Group("/webhooks", sharedSecret(webhookSecretHeader, g.config.Auth.WebhookSecret))
	{
		webhooks.POST("/delhivery", g.delhiveryPush)
		webhooks.POST("/checkout", g.checkoutCompleted)
	}
}

// Handler exposes the router for tests and embedding.
func (g *Gateway) Handler() http.Handler {
	return g.router
}

func (g *Gateway) Start() error {
	addr := fmt.Sprintf("%s:%d", g.config.Gateway.Host, g.config.Gateway.Port)
	g.server = &http.Server{
		Addr:              addr,
		Handler:           g.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.logger.Info("Gateway starting", zap.String("address", addr))
	if err := g.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (g *Gateway) Shutdown(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	return g.server.Shutdown(ctx)
}
