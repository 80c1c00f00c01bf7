package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/suPer8Hu/pharmacy-platform/internal/common"
	"github.com/suPer8Hu/pharmacy-platform/internal/httpapi/handlers"
	"github.com/suPer8Hu/pharmacy-platform/internal/httpapi/middleware"
)

type Options struct {
	JWTSecret          string
	CORSOrigins        []string
	Limiter            middleware.Limiter
	RateLimitPerMinute int
	Gatherer           prometheus.Gatherer
	Log                zerolog.Logger
}

func NewRouter(h *handlers.Handler, opts Options) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(opts.Log))
	r.Use(middleware.Recovery(opts.Log))

	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     opts.CORSOrigins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders:     []string{"Authorization", "Content-Type", "Idempotency-Key", middleware.RequestIDHeader},
			ExposeHeaders:    []string{middleware.RequestIDHeader},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.GET("/ping", h.Ping)
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)

	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	// Diagnoses (JWT required)
	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(opts.JWTSecret))
	limited := middleware.RateLimit(opts.Limiter, "diagnose", opts.RateLimitPerMinute, time.Minute, opts.Log)

	authGroup.POST("/diagnoses", limited, h.CreateDiagnosis)
	authGroup.POST("/diagnoses/async", limited, h.CreateDiagnosisJob)
	authGroup.GET("/diagnoses", h.ListDiagnoses)
	authGroup.GET("/diagnoses/:id", h.GetDiagnosis)
	authGroup.GET("/diagnoses/jobs/:job_id", h.GetDiagnosisJob)
	return r
}
