package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	model2 "github.com/fabrii9/remote-receipt-import/api/model"
	"github.com/fabrii9/remote-receipt-import/internal/apierror"
	backups "github.com/fabrii9/remote-receipt-import/internal/pg-backups"
)

func (a Api) BackupDB(c *gin.Context) {
	err := backups.BackupDB()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(200, "backup successful")
}

func (a Api) BackupDBS3(c *gin.Context) {
	err := backups.ZipUploadToS3()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(200, "backup successful")
}

// RecoverStaleItems manually sweeps items stuck in processing back to pending
// and restarts the batch chain of every import that still has open work. The
// periodic sweeper does the same on a timer; this endpoint exists for
// operators who do not want to wait for it.
func (a Api) RecoverStaleItems(c *gin.Context) {
	var req model2.RecoverStaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		req = model2.RecoverStaleRequest{}
	}

	if err := req.ValidateRecoverStale(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	released, err := a.rri.RecoverStaleItems(c.Request.Context(), req.ThresholdDuration())
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"released": released})
}

// GetFlowState reports the live rate limiter and circuit breaker view of the
// remote accounting system.
func (a Api) GetFlowState(c *gin.Context) {
	state, err := a.rri.GetRemoteFlowState(c.Request.Context())
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, state)
}
