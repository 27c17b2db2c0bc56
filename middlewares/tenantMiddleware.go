package middlewares

import (
	"net/http"

	"bitbucket.org/mmdatafocus/erp_backend/utils"
	"github.com/gin-gonic/gin"
)

// TenantMiddleware resolves the calling business and operator from the
// gateway-injected headers and stores them on the request context. Every
// model query is scoped by the tenant guard from there on.
func TenantMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId := c.GetHeader("x-business-id")
		if businessId == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "x-business-id header is required"})
			return
		}
		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)
		if operatorId := c.GetHeader("x-operator-id"); operatorId != "" {
			ctx = utils.SetOperatorIdInContext(ctx, operatorId)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
