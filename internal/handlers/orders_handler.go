package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rbhatta/go-delivery-trackflow/internal/assignment"
	"github.com/rbhatta/go-delivery-trackflow/internal/validation"
)

// registerOrderRoutes registers the order-facing routes: order lookup, the
// order's delivery, and the partner assignment workflow.
func registerOrderRoutes(g *gin.RouterGroup, d *deps) {
	v := validation.New()

	g.GET("/orders/:id", func(c *gin.Context) {
		ctx := c.Request.Context()

		order, err := d.orders.Get(ctx, tenantID(c), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "get_failed", "detail": err.Error()})
			return
		}
		if order == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "order_not_found"})
			return
		}

		delivery, err := d.deliveries.GetByOrder(ctx, tenantID(c), order.OrderID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "get_failed", "detail": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"order":  order,
			"action": assignment.EligibleAction(order.Status, delivery),
		})
	})

	// The delivery for an order, if one was ever initiated. Clients treat
	// the 404 as "tracking not started yet", not as an error.
	g.GET("/orders/:id/delivery", func(c *gin.Context) {
		ctx := c.Request.Context()
		orderID := c.Param("id")

		if cached, err := d.cache.GetByOrder(ctx, tenantID(c), orderID); err == nil && cached != nil {
			c.JSON(http.StatusOK, cached)
			return
		}

		delivery, err := d.deliveries.GetByOrder(ctx, tenantID(c), orderID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "get_failed", "detail": err.Error()})
			return
		}
		if delivery == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "delivery_not_initiated"})
			return
		}
		c.JSON(http.StatusOK, delivery)
	})

	g.POST("/orders/:id/assign", func(c *gin.Context) {
		ctx := c.Request.Context()

		var req validation.AssignPartnerRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}

		delivery, err := d.workflow.Assign(ctx, tenantID(c), c.Param("id"), req.PartnerID)
		if err != nil {
			switch {
			case errors.Is(err, assignment.ErrOrderNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "order_not_found"})
			case errors.Is(err, assignment.ErrPartnerUnavailable):
				c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "partner_unavailable"})
			case errors.Is(err, assignment.ErrNotEligible):
				c.JSON(http.StatusConflict, gin.H{"error": "order_not_eligible"})
			case errors.Is(err, assignment.ErrInFlight):
				c.JSON(http.StatusConflict, gin.H{"error": "assignment_in_flight"})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": "assignment_failed", "detail": err.Error()})
			}
			return
		}

		if err := d.cache.Set(ctx, delivery); err != nil {
			log.Printf("[handlers] cache set delivery=%s: %v", delivery.ID, err)
		}
		c.JSON(http.StatusOK, delivery)
	})
}
