package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"packplan/internal/contract"
	"packplan/internal/lifecycle"
)

// apiErrorResponse is the uniform error body.
type apiErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type planRequestBody struct {
	PreviousSessionID string `json:"previous_session_id"`
	Sequence          int    `json:"sequence"`
}

type planResponseBody struct {
	LearnerID string                    `json:"learner_id"`
	SessionID string                    `json:"session_id"`
	Status    contract.PlanStatus       `json:"status"`
	Replayed  bool                      `json:"replayed"`
	Pack      contract.Pack             `json:"pack"`
	Report    contract.ConstraintReport `json:"report"`
	PlannedAt time.Time                 `json:"planned_at"`
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.healthCheck != nil {
		if err := s.healthCheck(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "store": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handlePlanNext(c *gin.Context) {
	var body planRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, apiErrorResponse{Error: "invalid request body", Details: err.Error()})
		return
	}

	result, err := s.service.PlanNext(c.Request.Context(), lifecycle.PlanRequest{
		LearnerID:         c.Param("learner_id"),
		SessionID:         c.Param("session_id"),
		PreviousSessionID: body.PreviousSessionID,
		Sequence:          body.Sequence,
		IdempotencyKey:    c.GetHeader("Idempotency-Key"),
	})
	if err != nil {
		s.respondError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, planRecordResponse(result.Record, result.Replayed))
}

func (s *Server) handleFetchPack(c *gin.Context) {
	record, err := s.service.FetchPack(c.Request.Context(), c.Param("learner_id"), c.Param("session_id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, planRecordResponse(record, false))
}

func (s *Server) handleMarkServed(c *gin.Context) {
	servedAt, err := s.service.MarkServed(c.Request.Context(), c.Param("learner_id"), c.Param("session_id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": contract.PlanStatusServed, "served_at": servedAt})
}

func (s *Server) handleComplete(c *gin.Context) {
	completedAt, err := s.service.Complete(c.Request.Context(), c.Param("learner_id"), c.Param("session_id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": contract.PlanStatusCompleted, "completed_at": completedAt})
}

func planRecordResponse(record *contract.PlanRecord, replayed bool) planResponseBody {
	return planResponseBody{
		LearnerID: record.LearnerID,
		SessionID: record.SessionID,
		Status:    record.Status,
		Replayed:  replayed,
		Pack:      record.Pack,
		Report:    record.Report,
		PlannedAt: record.PlannedAt,
	}
}

func (s *Server) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, lifecycle.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, apiErrorResponse{Error: "invalid request", Details: err.Error()})
	case errors.Is(err, lifecycle.ErrPlanNotFound):
		c.JSON(http.StatusNotFound, apiErrorResponse{Error: "plan not found"})
	case errors.Is(err, lifecycle.ErrIdempotencyConflict), errors.Is(err, lifecycle.ErrLifecycleConflict):
		c.JSON(http.StatusConflict, apiErrorResponse{Error: "conflict", Details: err.Error()})
	case errors.Is(err, lifecycle.ErrNoEligibleItems):
		c.JSON(http.StatusUnprocessableEntity, apiErrorResponse{Error: "no eligible items", Details: err.Error()})
	default:
		s.logger.Error("Unhandled API error: %v", err)
		c.JSON(http.StatusInternalServerError, apiErrorResponse{Error: "internal error"})
	}
}
