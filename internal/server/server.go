// Package server exposes the HTTP surface: purchase creation, the provider
// webhook, transaction lookup, health and metrics.
package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/eventpass/ticketpay/internal/metrics"
	"github.com/eventpass/ticketpay/internal/models"
	"github.com/eventpass/ticketpay/internal/orchestrator"
	"github.com/eventpass/ticketpay/internal/store"
)

// PurchaseService is the orchestrator surface the handlers depend on.
type PurchaseService interface {
	Purchase(ctx context.Context, req *models.PurchaseRequest) (*models.PurchaseResponse, error)
	HandleWebhook(ctx context.Context, payload *models.WebhookPayload) (*models.Transaction, error)
	Get(id string) (*models.Transaction, error)
}

// NewRouter builds the gin engine with all routes registered.
func NewRouter(svc PurchaseService) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(metrics.PrometheusMiddleware("ticketpay"))
	router.HandleMethodNotAllowed = true

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	router.POST("/payment", handlePurchase(svc))
	router.GET("/payment/:transactionId", handleGet(svc))
	router.POST("/webhook", handleWebhook(svc))

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}

func handlePurchase(svc PurchaseService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.PurchaseRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
			return
		}

		resp, err := svc.Purchase(c.Request.Context(), &req)
		if err != nil {
			var verr *orchestrator.ValidationError
			if errors.As(err, &verr) {
				c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error()})
				return
			}
			log.WithError(err).Error("Purchase failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, resp)
	}
}

func handleGet(svc PurchaseService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("transactionId")

		tx, err := svc.Get(id)
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":          "transaction not found",
				"transaction_id": id,
			})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, tx)
	}
}

// handleWebhook always acknowledges with 200 once a merchant reference is
// present, including on internal errors, so the provider does not keep
// retrying a callback we cannot use.
func handleWebhook(svc PurchaseService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var payload models.WebhookPayload
		if err := c.ShouldBindJSON(&payload); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload: " + err.Error()})
			return
		}

		tx, err := svc.HandleWebhook(c.Request.Context(), &payload)
		if errors.Is(err, orchestrator.ErrMissingReference) {
			c.JSON(http.StatusBadRequest, gin.H{"error": orchestrator.ErrMissingReference.Error()})
			return
		}
		if err != nil {
			log.WithError(err).WithField("merchant_transaction_id", payload.MerchantTransactionID).Error("Webhook processing failed")
			c.JSON(http.StatusOK, gin.H{"received": true, "error": err.Error()})
			return
		}
		if tx == nil {
			// Unknown reference: acknowledged so the provider stops retrying.
			c.JSON(http.StatusOK, gin.H{"received": true})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"received":              true,
			"merchantTransactionId": tx.ID,
			"status":                tx.Status,
		})
	}
}
