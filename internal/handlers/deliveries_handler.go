package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/rbhatta/go-delivery-trackflow/internal/deliveries"
	"github.com/rbhatta/go-delivery-trackflow/internal/idempotency"
	"github.com/rbhatta/go-delivery-trackflow/internal/timeline"
	"github.com/rbhatta/go-delivery-trackflow/internal/validation"
)

// registerDeliveryRoutes registers the delivery lifecycle routes.
func registerDeliveryRoutes(g *gin.RouterGroup, d *deps) {
	v := validation.New()

	g.GET("/deliveries", func(c *gin.Context) {
		ctx := c.Request.Context()

		f := deliveries.ListFilter{
			Search:    c.Query("search"),
			Status:    c.Query("status"),
			Stage:     c.Query("stage"),
			PartnerID: c.Query("partner_id"),
			OrderID:   c.Query("order_id"),
		}
		f.Skip, _ = strconv.Atoi(c.Query("skip"))
		f.Limit, _ = strconv.Atoi(c.Query("limit"))

		resp, err := d.deliveries.List(ctx, tenantID(c), f)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed", "detail": err.Error()})
			return
		}
		c.JSON(http.StatusOK, resp)
	})

	g.GET("/deliveries/:id", func(c *gin.Context) {
		ctx := c.Request.Context()
		tid := c.Param("id")

		// Cache read-through; a miss or error falls back to the table.
		if cached, err := d.cache.Get(ctx, tenantID(c), tid); err == nil && cached != nil {
			c.JSON(http.StatusOK, cached)
			return
		}

		delivery, err := d.deliveries.Get(ctx, tenantID(c), tid)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "get_failed", "detail": err.Error()})
			return
		}
		if delivery == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "delivery_not_found"})
			return
		}
		if err := d.cache.Set(ctx, delivery); err != nil {
			log.Printf("[handlers] cache set delivery=%s: %v", delivery.ID, err)
		}
		c.JSON(http.StatusOK, delivery)
	})

	g.GET("/deliveries/:id/timeline", func(c *gin.Context) {
		ctx := c.Request.Context()

		delivery, err := d.deliveries.Get(ctx, tenantID(c), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "get_failed", "detail": err.Error()})
			return
		}
		if delivery == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "delivery_not_found"})
			return
		}

		// resolve partner display names; unresolved ids render as-is
		names := map[string]string{}
		for _, st := range delivery.Stages {
			if _, seen := names[st.PartnerID]; seen {
				continue
			}
			p, err := d.partners.Get(ctx, tenantID(c), st.PartnerID)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "get_failed", "detail": err.Error()})
				return
			}
			if p != nil {
				names[st.PartnerID] = p.Name
			}
		}

		c.JSON(http.StatusOK, timeline.Build(delivery, names))
	})

	g.POST("/deliveries", func(c *gin.Context) {
		ctx := c.Request.Context()

		var req validation.CreateDeliveryRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			// BindAndValidate already wrote a 400
			return
		}

		idempKey := c.GetHeader("Idempotency-Key")
		if idempKey == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing_idempotency_key"})
			return
		}

		created, err := d.idemp.CreateIfNotExists(ctx, tenantID(c), idempKey, "")
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "idempotency_check_failed", "detail": err.Error()})
			return
		}
		if !created {
			replayIdempotent(c, d, idempKey)
			return
		}

		delivery, err := d.deliveries.Create(ctx, tenantID(c), req.OrderID, req.PartnerID, req.EstimatedDeliveryTime)
		if err != nil {
			_ = d.idemp.MarkFailed(ctx, tenantID(c), idempKey, fmt.Sprintf("create_failed: %v", err))
			if errors.Is(err, deliveries.ErrOrderAlreadyAssigned) {
				c.JSON(http.StatusConflict, gin.H{"error": "order_already_assigned"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed", "detail": err.Error()})
			return
		}

		d.publishStage(ctx, delivery, req.PartnerID, deliveries.StageAssigned, idempKey, c.GetHeader("X-Request-Id"))
		d.recorder.StageTransition(ctx, delivery.TenantID, deliveries.StageAssigned)
		if err := d.cache.Set(ctx, delivery); err != nil {
			log.Printf("[handlers] cache set delivery=%s: %v", delivery.ID, err)
		}

		body, _ := json.Marshal(delivery)
		_ = d.idemp.MarkDone(ctx, tenantID(c), idempKey, string(body), http.StatusCreated)

		c.Header("Location", fmt.Sprintf("/deliveries/%s", delivery.ID))
		c.JSON(http.StatusCreated, delivery)
	})

	g.POST("/deliveries/:id/stages", func(c *gin.Context) {
		ctx := c.Request.Context()
		tid := c.Param("id")

		var req validation.AppendStageRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}

		delivery, err := d.deliveries.Get(ctx, tenantID(c), tid)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "get_failed", "detail": err.Error()})
			return
		}
		if delivery == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "delivery_not_found"})
			return
		}

		stage := deliveries.Stage{
			PartnerID: req.PartnerID,
			Stage:     deliveries.StageType(req.Stage),
			Notes:     req.Notes,
		}
		// Reassignment is stamped at write time, not inferred by readers.
		if stage.Stage == deliveries.StageAssigned && len(delivery.Stages) > 0 {
			stage.IsReassignment = true
		}
		if req.Proof != nil {
			stage.Proof = &deliveries.Proof{PhotoURL: req.Proof.PhotoURL, Note: req.Proof.Note}
		}
		if req.Location != nil {
			stage.Location = &deliveries.GeoPoint{Lat: req.Location.Lat, Lng: req.Location.Lng}
		}

		// The CAS expectation is recomputed from the history, not read from
		// the stored current_stage cache.
		updated, err := d.deliveries.AppendStage(ctx, tenantID(c), tid, delivery.DerivedCurrentStage(), stage)
		if err != nil {
			switch {
			case errors.Is(err, deliveries.ErrInvalidTransition):
				c.JSON(http.StatusConflict, gin.H{
					"error": "invalid_transition",
					"from":  delivery.DerivedCurrentStage(),
					"to":    req.Stage,
				})
			case errors.Is(err, deliveries.ErrStageConflict):
				c.JSON(http.StatusConflict, gin.H{"error": "stage_conflict"})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": "append_stage_failed", "detail": err.Error()})
			}
			return
		}

		d.publishStage(ctx, updated, req.PartnerID, stage.Stage, "", c.GetHeader("X-Request-Id"))
		d.recorder.StageTransition(ctx, updated.TenantID, stage.Stage)
		if err := d.cache.Set(ctx, updated); err != nil {
			log.Printf("[handlers] cache set delivery=%s: %v", updated.ID, err)
		}
		c.JSON(http.StatusOK, updated)
	})

	g.POST("/deliveries/:id/pickup-points", func(c *gin.Context) {
		ctx := c.Request.Context()
		tid := c.Param("id")

		var req validation.AppendPickupPointRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}

		updated, err := d.deliveries.AppendPickupPoint(ctx, tenantID(c), tid, deliveries.PickupPoint{PartnerID: req.PartnerID})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "append_pickup_point_failed", "detail": err.Error()})
			return
		}
		if updated == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "delivery_not_found"})
			return
		}
		if err := d.cache.Set(ctx, updated); err != nil {
			log.Printf("[handlers] cache set delivery=%s: %v", updated.ID, err)
		}
		c.JSON(http.StatusOK, updated)
	})
}

// replayIdempotent answers a duplicate POST /deliveries from the stored
// idempotency record.
func replayIdempotent(c *gin.Context, d *deps, idempKey string) {
	ctx := c.Request.Context()

	rec, err := d.idemp.Get(ctx, tenantID(c), idempKey)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "idempotency_check_failed", "detail": err.Error()})
		return
	}
	if rec == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "idempotency_record_missing"})
		return
	}
	switch rec.Status {
	case idempotency.StatusDone:
		if rec.ResponseBody != "" {
			c.Data(rec.ResponseStatus, "application/json", []byte(rec.ResponseBody))
			return
		}
		c.JSON(http.StatusOK, gin.H{"delivery_id": rec.DeliveryID})
	case idempotency.StatusInProgress:
		c.JSON(http.StatusAccepted, gin.H{"message": "request already in progress"})
	case idempotency.StatusFailed:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "previous_attempt_failed"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unknown_idempotency_status"})
	}
}

// publishStage emits a stage event to SQS. Best-effort: the delivery
// mutation is already committed, so failures are logged only.
func (d *deps) publishStage(ctx context.Context, delivery *deliveries.Delivery, partnerID string, stage deliveries.StageType, idempKey, correlationID string) {
	if d.publisher == nil {
		return
	}
	ev := deliveries.StageEvent{
		DeliveryID:     delivery.ID,
		OrderID:        delivery.OrderID,
		TenantID:       delivery.TenantID,
		Stage:          stage,
		PartnerID:      partnerID,
		IdempotencyKey: idempKey,
		CorrelationID:  correlationID,
	}
	body, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[handlers] marshal stage event: %v", err)
		return
	}
	attrs := map[string]string{
		"tenant_id": delivery.TenantID,
		"order_id":  delivery.OrderID,
		"stage":     string(stage),
	}
	if err := d.publisher.SendEventMessage(ctx, string(body), attrs); err != nil {
		log.Printf("[handlers] publish stage event delivery=%s: %v", delivery.ID, err)
	}
}
