package diagnosis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/suPer8Hu/pharmacy-platform/internal/ai"
	"github.com/suPer8Hu/pharmacy-platform/internal/catalog"
	"github.com/suPer8Hu/pharmacy-platform/internal/metrics"
)

// Pipeline stages, used as log fields.
const (
	StageReceived   = "received"
	StageCompleting = "completing"
	StageParsing    = "parsing"
	StageResolving  = "resolving"
	StagePersisting = "persisting"
	StageDone       = "done"
)

type Service struct {
	repo      *Repo
	completer ai.Completer
	resolver  *DrugResolver
	drugs     catalog.Store
	log       zerolog.Logger
	metrics   *metrics.Metrics
}

type Option func(*Service)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(repo *Repo, completer ai.Completer, finder Finder, drugs catalog.Store, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		completer: completer,
		drugs:     drugs,
		log:       zerolog.Nop(),
	}
	for _, o := range opts {
		o(s)
	}
	s.resolver = NewDrugResolver(finder, s.log)
	return s
}

// Submit runs one symptom text through completion, parsing, resolution and
// persistence. Failures are ErrUnauthenticated, ErrEmptySymptoms,
// ErrAllProvidersExhausted, ErrUnparsableResponse or ErrPersistenceFailed;
// unmatched drug mentions are not failures.
func (s *Service) Submit(ctx context.Context, userID uint64, symptoms string) (*Result, error) {
	start := time.Now()
	log := s.log.With().Uint64("user_id", userID).Logger()

	if userID == 0 {
		s.metrics.PipelineResult("unauthenticated", time.Since(start))
		return nil, ErrUnauthenticated
	}
	if strings.TrimSpace(symptoms) == "" {
		s.metrics.PipelineResult("invalid", time.Since(start))
		return nil, ErrEmptySymptoms
	}

	log.Debug().Str("stage", StageReceived).Msg("diagnosis requested")

	raw, err := s.completer.Complete(ctx, BuildPrompt(symptoms))
	if err != nil {
		result := "providers_exhausted"
		if !errors.Is(err, ErrAllProvidersExhausted) {
			result = "aborted"
		}
		s.metrics.PipelineResult(result, time.Since(start))
		log.Error().Err(err).Str("stage", StageCompleting).Msg("diagnosis failed")
		return nil, err
	}

	parsed, err := Parse(raw)
	if err != nil {
		s.metrics.PipelineResult("unparsable", time.Since(start))
		log.Error().Err(err).Str("stage", StageParsing).Msg("diagnosis failed")
		return nil, err
	}
	s.metrics.Parsed(parsed.Strategy)

	log.Debug().Str("stage", StageResolving).Int("mentions", len(parsed.Drugs)).Msg("resolving mentions")
	recs := s.resolver.Resolve(ctx, parsed.Drugs)
	s.metrics.MentionsSeen(len(recs), len(parsed.Drugs)-len(recs))

	d := &Diagnosis{
		UserID:        userID,
		Symptoms:      symptoms,
		DiagnosisText: parsed.Diagnosis,
	}
	if err := s.repo.CreateWithRecommendations(ctx, d, recs); err != nil {
		s.metrics.PipelineResult("persistence_failed", time.Since(start))
		log.Error().Err(err).Str("stage", StagePersisting).Msg("diagnosis failed")
		return nil, fmt.Errorf("%w: %w", ErrPersistenceFailed, err)
	}

	collapsed := collapseByDrug(recs)
	views := make([]RecommendedDrugView, 0, len(collapsed))
	for _, r := range collapsed {
		views = append(views, newView(r.Drug, r.Quantity))
	}

	s.metrics.PipelineResult(StageDone, time.Since(start))
	log.Info().
		Uint64("diagnosis_id", d.ID).
		Str("strategy", parsed.Strategy).
		Int("mentions", len(parsed.Drugs)).
		Int("resolved", len(views)).
		Dur("took", time.Since(start)).
		Msg("diagnosis stored")

	return &Result{
		DiagnosisID:      d.ID,
		Diagnosis:        d.DiagnosisText,
		RecommendedDrugs: views,
		Raw:              raw,
		CreatedAt:        d.CreatedAt,
	}, nil
}

// GetDiagnosis returns a stored diagnosis enriched from the current catalog.
// Diagnoses of other users are reported as gorm.ErrRecordNotFound.
func (s *Service) GetDiagnosis(ctx context.Context, userID, id uint64) (*Result, error) {
	d, err := s.repo.GetDiagnosis(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	ids := make([]uint64, 0, len(d.Recommendations))
	for _, r := range d.Recommendations {
		ids = append(ids, r.DrugID)
	}
	drugs, err := s.drugs.GetDrugsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[uint64]catalog.Drug, len(drugs))
	for _, dr := range drugs {
		byID[dr.ID] = dr
	}

	views := make([]RecommendedDrugView, 0, len(d.Recommendations))
	for _, r := range d.Recommendations {
		dr, ok := byID[r.DrugID]
		if !ok {
			continue
		}
		views = append(views, newView(dr, r.Quantity))
	}

	return &Result{
		DiagnosisID:      d.ID,
		Diagnosis:        d.DiagnosisText,
		RecommendedDrugs: views,
		CreatedAt:        d.CreatedAt,
	}, nil
}

func (s *Service) ListDiagnoses(ctx context.Context, userID uint64, limit int, beforeID uint64) ([]Diagnosis, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.repo.ListDiagnoses(ctx, userID, limit, beforeID)
}

// EnqueueJob records a queued diagnosis. With an idempotency key, a repeat
// returns the existing job and created=false.
func (s *Service) EnqueueJob(ctx context.Context, userID uint64, symptoms string, idempotencyKey *string, newID func() (string, error)) (*Job, bool, error) {
	if userID == 0 {
		return nil, false, ErrUnauthenticated
	}
	if strings.TrimSpace(symptoms) == "" {
		return nil, false, ErrEmptySymptoms
	}
	id, err := newID()
	if err != nil {
		return nil, false, err
	}
	return s.repo.CreateJobOrGetExisting(ctx, &Job{
		ID:             id,
		UserID:         userID,
		Symptoms:       symptoms,
		IdempotencyKey: idempotencyKey,
		Status:         JobQueued,
	})
}

// GetJob hides jobs owned by other users behind gorm.ErrRecordNotFound.
func (s *Service) GetJob(ctx context.Context, userID uint64, jobID string) (*Job, error) {
	j, err := s.repo.GetJobByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.UserID != userID {
		return nil, gorm.ErrRecordNotFound
	}
	return j, nil
}

// RunJob executes a queued job and records its outcome. The returned error
// is the pipeline failure, after it has been stored on the job.
func (s *Service) RunJob(ctx context.Context, jobID string) error {
	if err := s.repo.UpdateJobStatusRunning(ctx, jobID); err != nil {
		s.log.Warn().Err(err).Str("job_id", jobID).Msg("job claim failed")
	}

	j, err := s.repo.GetJobByID(ctx, jobID)
	if err != nil {
		return err
	}
	if j.Status == JobSucceeded {
		return nil
	}

	res, runErr := s.Submit(ctx, j.UserID, j.Symptoms)
	if runErr != nil {
		if err := s.repo.MarkJobFailed(ctx, jobID, runErr.Error()); err != nil {
			return errors.Join(runErr, err)
		}
		return runErr
	}

	payload, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return s.repo.MarkJobSucceeded(ctx, jobID, res.DiagnosisID, datatypes.JSON(payload))
}
