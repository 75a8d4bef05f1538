package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

type createChargeRequest struct {
	Provider      string `json:"provider"`
	ForceRecreate bool   `json:"force_recreate"`
}

// HandleCreateCharge integrates one billing with its payment gateway on
// demand, outside the scheduler sweep.
func (s *Server) HandleCreateCharge(c *gin.Context) {
	billingID, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var req createChargeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
	}

	if err := s.chargeSvc.CreateExternalCharge(c.Request.Context(), billingID, req.Provider, req.ForceRecreate); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type cancellationRequest struct {
	Reason string `json:"reason"`
}

// HandleRequestCancellation queues a remote cancellation; the scheduler
// processes the queue asynchronously.
func (s *Server) HandleRequestCancellation(c *gin.Context) {
	billingID, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var req cancellationRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
	}

	if err := s.chargeSvc.RequestCancellation(c.Request.Context(), billingID, req.Reason); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}
