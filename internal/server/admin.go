package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/fxquote/internal/ingestion"
	"go.uber.org/zap"
)

// RefreshRates starts an ingestion run in the background. A run that is
// already in flight answers 409.
func (s *Server) RefreshRates(c *gin.Context) {
	if s.refresher == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	if err := s.refresher.TriggerNow(ingestion.JobName); err != nil {
		AbortWithError(c, err)
		return
	}

	s.log.Info("rates refresh triggered", zap.String("client_ip", c.ClientIP()))
	c.JSON(http.StatusAccepted, gin.H{"data": gin.H{
		"job":    ingestion.JobName,
		"status": "accepted",
	}})
}
