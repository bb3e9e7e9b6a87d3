package handlers

import (
	"errors"
	"net/http"
	"strings"

	"irrigation_controller/internal/service"

	"github.com/gin-gonic/gin"
)

const (
	ctxOperator = "operator"

	errMissingAuth   = "missing Authorization header"
	errAuthFormat    = "invalid Authorization header format"
	errTokenExpired  = "token expired; mint a new one with the token command"
	errTokenRejected = "invalid or expired token"
)

// bearerToken extracts the token of a "Bearer <token>" header. The scheme is
// case-insensitive.
func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// operatorMiddleware admits requests carrying an operator token and stores the
// operator name for the handlers.
func (h *Handler) operatorMiddleware(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if header == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errMissingAuth})
		return
	}
	token, ok := bearerToken(header)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errAuthFormat})
		return
	}

	operator, err := h.services.ParseToken(token)
	if errors.Is(err, service.ErrTokenExpired) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errTokenExpired})
		return
	}
	if err != nil {
		if h.log != nil {
			h.log.Warnw("operator_token_rejected", "path", c.FullPath(), "err", err)
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errTokenRejected})
		return
	}

	c.Set(ctxOperator, operator)
	c.Next()
}
