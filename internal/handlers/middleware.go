package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// TenantHeader carries the marketplace instance id; every data route is
// scoped by it.
const TenantHeader = "X-Tenant-ID"

const tenantKey = "tenantID"

// TenantRequired rejects requests without a tenant id. Clients treat the
// missing-tenant condition as blocking and skip the call entirely; anything
// that still arrives here is malformed.
func TenantRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		tid := c.GetHeader(TenantHeader)
		if tid == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing_tenant_id"})
			return
		}
		c.Set(tenantKey, tid)
		c.Next()
	}
}

func tenantID(c *gin.Context) string {
	return c.GetString(tenantKey)
}
