package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rbhatta/go-delivery-trackflow/internal/partners"
)

// registerPartnerRoutes registers the partner lookup used by the
// assignment dialog. The response is a bare array; list normalization is
// the client's concern.
func registerPartnerRoutes(g *gin.RouterGroup, d *deps) {
	g.GET("/partners", func(c *gin.Context) {
		ctx := c.Request.Context()

		f := partners.ListFilter{
			Type:          partners.PartnerType(c.Query("type")),
			Search:        c.Query("search"),
			ActiveOnly:    c.Query("is_active") == "true",
			AvailableOnly: c.Query("is_available") == "true",
		}
		if f.Type != "" && !f.Type.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_partner_type"})
			return
		}

		list, err := d.partners.List(ctx, tenantID(c), f)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed", "detail": err.Error()})
			return
		}
		c.JSON(http.StatusOK, list)
	})
}
