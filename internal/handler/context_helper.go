package handler

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/seatwatch/internal/middleware"
	"github.com/noah-isme/seatwatch/internal/models"
)

func claimsFromContext(c *gin.Context) *models.OperatorClaims {
	value, exists := c.Get(middleware.ContextOperatorKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.OperatorClaims)
	if !ok {
		return nil
	}
	return claims
}

func operatorName(c *gin.Context) string {
	if claims := claimsFromContext(c); claims != nil {
		return claims.Subject
	}
	return "anonymous"
}

// refFromParam accepts either a numeric id or an access key.
func refFromParam(raw string) models.SubscriptionRef {
	raw = strings.TrimSpace(raw)
	if id, err := strconv.ParseInt(raw, 10, 64); err == nil && id > 0 {
		return models.SubscriptionRef{ID: id}
	}
	return models.SubscriptionRef{AccessKey: strings.ToLower(raw)}
}
