package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/suPer8Hu/pharmacy-platform/internal/common"
	"github.com/suPer8Hu/pharmacy-platform/internal/diagnosis"
	"github.com/suPer8Hu/pharmacy-platform/internal/httpapi/middleware"
)

// JobPublisher hands queued job ids to the worker. rabbitmq.Publisher
// implements it.
type JobPublisher interface {
	PublishJob(ctx context.Context, jobID string) error
}

type Handler struct {
	DB           *gorm.DB
	DiagnosisSvc *diagnosis.Service
	Jobs         JobPublisher
	Log          zerolog.Logger
	NewJobID     func() (string, error)
}

// NewHandler wires the handlers. jobs may be nil, which disables the async
// endpoint.
func NewHandler(db *gorm.DB, svc *diagnosis.Service, jobs JobPublisher, log zerolog.Logger) *Handler {
	return &Handler{
		DB:           db,
		DiagnosisSvc: svc,
		Jobs:         jobs,
		Log:          log,
		NewJobID:     common.NewULID,
	}
}

func userIDFromContext(c *gin.Context) (uint64, bool) {
	v, ok := c.Get(middleware.UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok
}

func (h *Handler) reqLog(c *gin.Context) *zerolog.Logger {
	l := h.Log.With().Str("request_id", c.GetString(middleware.RequestIDKey)).Logger()
	return &l
}
