package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

type summary struct {
	Total    int    `json:"total"`
	Updated  int    `json:"updated"`
	Errors   int    `json:"errors"`
	Duration string `json:"duration"`
}

type runResponse struct {
	Success bool    `json:"success"`
	Summary summary `json:"summary"`
	Results any     `json:"results"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func (s *Server) supplierSync(c *gin.Context) {
	ctx, cancel := s.runContext()
	defer cancel()

	report, err := s.syncer.SyncBatch(ctx)
	if err != nil {
		s.fail(c, "supplier sync", err)
		return
	}

	c.JSON(http.StatusOK, runResponse{
		Success: true,
		Summary: summary{
			Total:    report.Total,
			Updated:  report.Updated,
			Errors:   report.Errors,
			Duration: report.Duration.Round(time.Millisecond).String(),
		},
		Results: report.Results,
	})
}

func (s *Server) reconcile(c *gin.Context) {
	ctx, cancel := s.runContext()
	defer cancel()

	report, err := s.scheduler.TriggerNow(ctx)
	if err != nil {
		s.fail(c, "reconcile", err)
		return
	}

	c.JSON(http.StatusOK, runResponse{
		Success: true,
		Summary: summary{
			Total:    report.Total,
			Updated:  report.Mutations,
			Errors:   report.Errors,
			Duration: report.Duration.Round(time.Millisecond).String(),
		},
		Results: report.ByIssue(),
	})
}

func (s *Server) schedulerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "status": s.scheduler.Status()})
}

func (s *Server) schedulerStart(c *gin.Context) {
	if err := s.scheduler.Start(s.baseCtx); err != nil {
		s.fail(c, "scheduler start", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "status": s.scheduler.Status()})
}

func (s *Server) schedulerStop(c *gin.Context) {
	s.scheduler.Stop()
	c.JSON(http.StatusOK, gin.H{"success": true, "status": s.scheduler.Status()})
}

func (s *Server) fail(c *gin.Context, op string, err error) {
	status := statusFor(err)
	entry := s.logger.WithError(err).WithFields(log.Fields{"op": op, "http_status": status})
	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Warn("request rejected")
	}
	c.JSON(status, errorResponse{Success: false, Error: err.Error()})
}
