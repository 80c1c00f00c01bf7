// Package app builds the components shared by the server and the worker.
package app

import (
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/suPer8Hu/pharmacy-platform/internal/ai"
	"github.com/suPer8Hu/pharmacy-platform/internal/catalog"
	"github.com/suPer8Hu/pharmacy-platform/internal/config"
	"github.com/suPer8Hu/pharmacy-platform/internal/diagnosis"
	"github.com/suPer8Hu/pharmacy-platform/internal/metrics"
)

// NewDiagnosisService wires the OpenRouter key ring, the catalog index and
// the repository into a diagnosis.Service.
func NewDiagnosisService(cfg config.Config, gdb *gorm.DB, m *metrics.Metrics, log zerolog.Logger) *diagnosis.Service {
	keyring := ai.NewOpenRouterKeyRing(
		cfg.OpenRouterBaseURL,
		cfg.OpenRouterAPIKeys,
		cfg.OpenRouterModel,
		cfg.OpenRouterSiteURL,
		cfg.OpenRouterAppName,
		ai.WithAttemptTimeout(cfg.AIAttemptTimeout),
		ai.WithLogger(log.With().Str("component", "keyring").Logger()),
		ai.WithMetrics(m),
	)
	drugs := catalog.NewRepo(gdb)
	return diagnosis.NewService(
		diagnosis.NewRepo(gdb),
		keyring,
		catalog.NewIndex(drugs, cfg.CatalogCacheTTL),
		drugs,
		diagnosis.WithLogger(log.With().Str("component", "diagnosis").Logger()),
		diagnosis.WithMetrics(m),
	)
}
