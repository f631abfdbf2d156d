package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/alexsiroli/sagra-orders/internal/orders"
	"github.com/alexsiroli/sagra-orders/internal/stock"
	"github.com/alexsiroli/sagra-orders/internal/submit"
	"github.com/alexsiroli/sagra-orders/internal/syncer"
	"github.com/alexsiroli/sagra-orders/internal/validation"
)

// HandlerConfig groups dependencies for the order routes.
type HandlerConfig struct {
	Submitter   *submit.Submitter
	Coordinator *orders.Coordinator
	Worker      *syncer.Worker
	Logger      *logrus.Logger
}

// RegisterOrdersRoutes registers the order API.
func RegisterOrdersRoutes(r *gin.Engine, cfg HandlerConfig) {
	v := validation.New()

	r.POST("/orders", func(c *gin.Context) {
		ctx := c.Request.Context()

		var req validation.SubmitOrderRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			// BindAndValidate already wrote a 400
			return
		}

		// The idempotency key becomes the order id. A till that retries
		// after a timeout must resend the same key; without one we mint a
		// fresh key and the retry protection is this request only.
		key := c.GetHeader("Idempotency-Key")
		if key == "" {
			key = uuid.NewString()
		}

		opts := submit.Options{DisableQueue: c.Query("no_queue") == "true"}
		res, err := cfg.Submitter.SubmitOrder(ctx, key, &req, opts)
		if err != nil {
			writeSubmitError(c, cfg.Logger, err)
			return
		}

		switch {
		case res.Duplicate:
			c.JSON(http.StatusOK, res)
		case res.Queued:
			c.JSON(http.StatusAccepted, res)
		default:
			c.Header("Location", fmt.Sprintf("/orders/%s", res.OrderID))
			c.JSON(http.StatusCreated, res)
		}
	})

	r.GET("/orders/:id", func(c *gin.Context) {
		ctx := c.Request.Context()
		order, err := cfg.Coordinator.Get(ctx, c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": "store_unavailable", "msg": err.Error()})
			return
		}
		if order == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "order_not_found"})
			return
		}
		lines, err := cfg.Coordinator.GetLines(ctx, order)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": "store_unavailable", "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"order": order, "lines": lines})
	})

	transitions := map[string]func(c *gin.Context) error{
		"confirm":  func(c *gin.Context) error { return cfg.Coordinator.Confirm(c.Request.Context(), c.Param("id")) },
		"ready":    func(c *gin.Context) error { return cfg.Coordinator.MarkReady(c.Request.Context(), c.Param("id")) },
		"complete": func(c *gin.Context) error { return cfg.Coordinator.MarkCompleted(c.Request.Context(), c.Param("id")) },
		"cancel":   func(c *gin.Context) error { return cfg.Coordinator.Cancel(c.Request.Context(), c.Param("id")) },
	}
	for action, run := range transitions {
		run := run
		r.POST("/orders/:id/"+action, func(c *gin.Context) {
			if err := run(c); err != nil {
				writeTransitionError(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"order_id": c.Param("id")})
		})
	}

	r.GET("/queue/status", func(c *gin.Context) {
		st, err := cfg.Submitter.Status()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "queue_unavailable", "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, st)
	})

	// Manual drain for the "Sync now" button next to the queue badge.
	r.POST("/sync", func(c *gin.Context) {
		res, err := cfg.Worker.RunCycle(c.Request.Context())
		if err != nil {
			if errors.Is(err, syncer.ErrCycleRunning) {
				c.JSON(http.StatusConflict, gin.H{"error": "sync_already_running"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "sync_failed", "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, res)
	})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

func writeSubmitError(c *gin.Context, log *logrus.Logger, err error) {
	var verr *validation.Error
	if errors.As(err, &verr) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "order_rejected", "msg": verr.Reason})
		return
	}
	var serr *stock.InsufficientStockError
	if errors.As(err, &serr) {
		c.JSON(http.StatusConflict, gin.H{
			"error":     "insufficient_stock",
			"component": serr.Name,
			"requested": serr.Requested,
			"available": serr.Available,
		})
		return
	}
	var te *orders.TransactionError
	if errors.As(err, &te) && te.Unreachable {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store_unreachable", "msg": te.Error()})
		return
	}
	log.WithError(err).Error("order submission failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "submit_failed", "msg": err.Error()})
}

func writeTransitionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, orders.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "order_not_found"})
	case errors.Is(err, orders.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_transition", "msg": err.Error()})
	default:
		var serr *stock.InsufficientStockError
		if errors.As(err, &serr) {
			c.JSON(http.StatusConflict, gin.H{"error": "insufficient_stock", "component": serr.Name})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "transition_failed", "msg": err.Error()})
	}
}
