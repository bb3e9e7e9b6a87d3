package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	statusOK    = "ok"
	statusReset = "reset"

	errGetState     = "failed to load state"
	errResetCounter = "failed to reset connect failures"
)

// Centralized error logging and response.
func (h *Handler) logAndJSONError(c *gin.Context, httpCode int, userMsg, logKey string, err error, kv ...interface{}) {
	if h.log != nil && err != nil {
		fields := append([]interface{}{"err", err}, kv...)
		h.log.Errorw(logKey, fields...)
	}
	c.JSON(httpCode, gin.H{"error": userMsg})
}

// @Summary      Health check
// @Tags         system
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /health [get]
func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": statusOK,
	})
}

// @Summary      Device state
// @Description  Persisted connect-failure count and the latest logged cycle.
// @Tags         device
// @Produce      json
// @Success      200  {object}  models.DeviceState
// @Failure      401  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /api/v1/state [get]
// @Security     BearerAuth
func (h *Handler) getState(c *gin.Context) {
	st, err := h.services.Monitoring.GetState(c.Request.Context())
	if err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, errGetState, "get_state_failed", err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// @Summary      Reset connect failures
// @Description  Clears the persisted consecutive connect-failure count.
// @Tags         device
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status, state"
// @Failure      401  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /api/v1/counter/reset [post]
// @Security     BearerAuth
func (h *Handler) resetCounter(c *gin.Context) {
	ctx := c.Request.Context()
	operator := c.GetString(ctxOperator)
	if err := h.services.Monitoring.ResetConnectFailures(ctx); err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, errResetCounter, "counter_reset_failed", err, "operator", operator)
		return
	}
	if h.log != nil {
		h.log.Infow("counter_reset", "operator", operator)
	}
	resp := gin.H{"status": statusReset}
	// best-effort
	if st, err := h.services.Monitoring.GetState(ctx); err == nil {
		resp["state"] = st
	}
	c.JSON(http.StatusOK, resp)
}
