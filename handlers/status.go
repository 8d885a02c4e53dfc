package handlers

import (
	"net/http"

	"mention-engine/services"

	"github.com/gin-gonic/gin"
)

// StatusHandler serves liveness and the Social Gateway health snapshot.
type StatusHandler struct {
	Social *services.SocialGateway
}

func NewStatusHandler(social *services.SocialGateway) *StatusHandler {
	return &StatusHandler{Social: social}
}

// Liveness handles GET /v1/status.
func (h *StatusHandler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Health handles GET /v1/status/health. Returns 200 when every circuit
// is CLOSED, 503 otherwise.
func (h *StatusHandler) Health(c *gin.Context) {
	healthy, rows, err := h.Social.HealthSnapshot()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	circuits := make([]gin.H, 0, len(rows))
	for _, r := range rows {
		circuits = append(circuits, gin.H{"platform": r.Circuit, "healthy": r.Healthy})
	}

	status := "healthy"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{"status": status, "circuits": circuits})
}
