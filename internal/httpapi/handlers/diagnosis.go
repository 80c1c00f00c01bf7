package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/suPer8Hu/pharmacy-platform/internal/common"
	"github.com/suPer8Hu/pharmacy-platform/internal/diagnosis"
)

type diagnoseReq struct {
	Message string `json:"message"`
}

// diagnosisFailure maps pipeline errors onto status, code and message.
func diagnosisFailure(err error) (int, int, string) {
	switch {
	case errors.Is(err, diagnosis.ErrUnauthenticated):
		return http.StatusUnauthorized, 40101, "unauthenticated"
	case errors.Is(err, diagnosis.ErrEmptySymptoms):
		return http.StatusBadRequest, 10002, "message is required"
	case errors.Is(err, diagnosis.ErrAllProvidersExhausted):
		return http.StatusInternalServerError, 50011, "diagnosis service unavailable, try again later"
	case errors.Is(err, diagnosis.ErrUnparsableResponse):
		return http.StatusInternalServerError, 50012, "could not interpret diagnosis response"
	case errors.Is(err, diagnosis.ErrPersistenceFailed):
		return http.StatusInternalServerError, 50013, "failed to save diagnosis"
	default:
		return http.StatusInternalServerError, 50001, "internal error"
	}
}

// CreateDiagnosis runs the pipeline synchronously for the caller's symptoms.
func (h *Handler) CreateDiagnosis(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthenticated")
		return
	}

	var req diagnoseReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	res, err := h.DiagnosisSvc.Submit(c.Request.Context(), uid, req.Message)
	if err != nil {
		status, code, msg := diagnosisFailure(err)
		if status >= http.StatusInternalServerError {
			h.reqLog(c).Error().Err(err).Uint64("user_id", uid).Msg("diagnosis failed")
		}
		common.Fail(c, status, code, msg)
		return
	}

	common.OK(c, gin.H{
		"diagnosis_id":      res.DiagnosisID,
		"diagnosis":         res.Diagnosis,
		"recommended_drugs": res.RecommendedDrugs,
		"raw":               res.Raw,
	})
}

func (h *Handler) ListDiagnoses(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthenticated")
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	var beforeID uint64
	if s := c.Query("before_id"); s != "" {
		if n, err := strconv.ParseUint(s, 10, 64); err == nil {
			beforeID = n
		}
	}

	items, err := h.DiagnosisSvc.ListDiagnoses(c.Request.Context(), uid, limit, beforeID)
	if err != nil {
		h.reqLog(c).Error().Err(err).Uint64("user_id", uid).Msg("list diagnoses failed")
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to list diagnoses")
		return
	}

	var nextBeforeID uint64
	if len(items) > 0 {
		nextBeforeID = items[len(items)-1].ID
	}

	common.OK(c, gin.H{
		"diagnoses":      items,
		"next_before_id": nextBeforeID,
	})
}

func (h *Handler) GetDiagnosis(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthenticated")
		return
	}

	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		common.Fail(c, http.StatusBadRequest, 10003, "invalid diagnosis id")
		return
	}

	res, err := h.DiagnosisSvc.GetDiagnosis(c.Request.Context(), uid, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40401, "diagnosis not found")
			return
		}
		h.reqLog(c).Error().Err(err).Uint64("diagnosis_id", id).Msg("get diagnosis failed")
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	common.OK(c, gin.H{
		"diagnosis_id":      res.DiagnosisID,
		"diagnosis":         res.Diagnosis,
		"recommended_drugs": res.RecommendedDrugs,
		"created_at":        res.CreatedAt,
	})
}

// CreateDiagnosisJob queues the symptoms for the worker. A repeated
// Idempotency-Key returns the existing job without publishing again.
func (h *Handler) CreateDiagnosisJob(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthenticated")
		return
	}
	if h.Jobs == nil {
		common.Fail(c, http.StatusServiceUnavailable, 50302, "async diagnosis disabled")
		return
	}

	var req diagnoseReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	idempoKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if len(idempoKey) > 128 {
		common.Fail(c, http.StatusBadRequest, 10004, "idempotency key too long")
		return
	}
	var idempoKeyPtr *string
	if idempoKey != "" {
		idempoKeyPtr = &idempoKey
	}

	j, created, err := h.DiagnosisSvc.EnqueueJob(c.Request.Context(), uid, req.Message, idempoKeyPtr, h.NewJobID)
	if err != nil {
		status, code, msg := diagnosisFailure(err)
		if status >= http.StatusInternalServerError {
			h.reqLog(c).Error().Err(err).Uint64("user_id", uid).Msg("enqueue diagnosis failed")
		}
		common.Fail(c, status, code, msg)
		return
	}

	// enqueue only when a new job was created
	if created {
		if err := h.Jobs.PublishJob(c.Request.Context(), j.ID); err != nil {
			h.reqLog(c).Error().Err(err).Str("job_id", j.ID).Msg("publish job failed")
			common.Fail(c, http.StatusInternalServerError, 50003, "enqueue failed")
			return
		}
	}

	common.Accepted(c, gin.H{
		"job_id":  j.ID,
		"status":  j.Status,
		"created": created,
	})
}

func (h *Handler) GetDiagnosisJob(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthenticated")
		return
	}
	jobID := c.Param("job_id")
	if jobID == "" {
		common.Fail(c, http.StatusBadRequest, 10005, "job_id required")
		return
	}

	j, err := h.DiagnosisSvc.GetJob(c.Request.Context(), uid, jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40402, "job not found")
			return
		}
		h.reqLog(c).Error().Err(err).Str("job_id", jobID).Msg("get job failed")
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	common.OK(c, gin.H{
		"job": gin.H{
			"id":           j.ID,
			"status":       j.Status,
			"diagnosis_id": j.DiagnosisID,
			"result":       j.Result,
			"error":        j.Error,
			"created_at":   j.CreatedAt,
			"updated_at":   j.UpdatedAt,
		},
	})
}
