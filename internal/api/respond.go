package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/spigell/jobhunter/internal/jobs"
	"github.com/spigell/jobhunter/internal/scheduler"
	"github.com/spigell/jobhunter/internal/store"
)

type envelope struct {
	Success bool       `json:"success"`
	Message string     `json:"message,omitempty"`
	Data    any        `json:"data,omitempty"`
	Error   *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func ok(c *gin.Context, status int, data any) {
	c.JSON(status, envelope{Success: true, Data: data})
}

func okMessage(c *gin.Context, message string, data any) {
	c.JSON(http.StatusOK, envelope{Success: true, Message: message, Data: data})
}

func fail(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, envelope{Error: &errorBody{Code: code, Message: message}})
}

// failErr maps domain errors onto HTTP statuses. Anything unknown is a 500
// and is logged with the request id.
func (s *Server) failErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, scheduler.ErrUnknownCycle):
		fail(c, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, jobs.ErrInvalidTransition):
		fail(c, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, scheduler.ErrAlreadyRunning):
		fail(c, http.StatusConflict, "already_running", err.Error())
	case errors.Is(err, scheduler.ErrCycleInFlight):
		fail(c, http.StatusConflict, "cycle_in_flight", err.Error())
	case errors.Is(err, scheduler.ErrClosed):
		fail(c, http.StatusServiceUnavailable, "shutting_down", err.Error())
	default:
		s.logger.Error("request failed",
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err),
		)
		fail(c, http.StatusInternalServerError, "internal", "internal error")
	}
}
