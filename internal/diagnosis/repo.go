package diagnosis

import (
	"context"
	"errors"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// CreateWithRecommendations writes the diagnosis and its pivot rows in one
// transaction. A repeated drug overwrites the stored quantity and keeps the
// position of its first mention.
func (r *Repo) CreateWithRecommendations(ctx context.Context, d *Diagnosis, recs []ResolvedRecommendation) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(d).Error; err != nil {
			return err
		}
		for i, rec := range collapseByDrug(recs) {
			row := RecommendedDrug{
				DiagnosisID: d.ID,
				DrugID:      rec.DrugID,
				Quantity:    rec.Quantity,
				Position:    i,
			}
			if err := tx.Omit(clause.Associations).
				Clauses(clause.OnConflict{
					Columns:   []clause.Column{{Name: "diagnosis_id"}, {Name: "drug_id"}},
					DoUpdates: clause.AssignmentColumns([]string{"quantity", "updated_at"}),
				}).
				Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// GetDiagnosis loads a diagnosis owned by userID with its pivot rows in
// mention order.
func (r *Repo) GetDiagnosis(ctx context.Context, userID, id uint64) (*Diagnosis, error) {
	var d Diagnosis
	if err := r.db.WithContext(ctx).
		Preload("Recommendations", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC, drug_id ASC")
		}).
		Where("id = ? AND user_id = ?", id, userID).
		First(&d).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

// ListDiagnoses returns diagnoses in DESC id order (newest -> oldest).
func (r *Repo) ListDiagnoses(ctx context.Context, userID uint64, limit int, beforeID uint64) ([]Diagnosis, error) {
	q := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Limit(limit)

	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}

	var out []Diagnosis
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Job CRUD
func (r *Repo) CreateJob(ctx context.Context, job *Job) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *Repo) GetJobByID(ctx context.Context, id string) (*Job, error) {
	var j Job
	if err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

// UpdateJobStatusRunning claims a queued job, or a failed one coming back
// from the retry queue.
func (r *Repo) UpdateJobStatusRunning(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status IN ?", id, []JobStatus{JobQueued, JobFailed}).
		Update("status", JobRunning).Error
}

func (r *Repo) MarkJobSucceeded(ctx context.Context, id string, diagnosisID uint64, result datatypes.JSON) error {
	return r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       JobSucceeded,
			"diagnosis_id": diagnosisID,
			"result":       result,
			"error":        nil,
		}).Error
}

func (r *Repo) MarkJobFailed(ctx context.Context, id string, errMsg string) error {
	return r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       JobFailed,
			"error":        errMsg,
			"diagnosis_id": nil,
		}).Error
}

func (r *Repo) GetJobByUserAndIdempotencyKey(ctx context.Context, userID uint64, key string) (*Job, error) {
	var job Job
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND idempotency_key = ?", userID, key).
		First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// CreateJobOrGetExisting tries to create a job, but if (user_id, idempotency_key) already exists,
// it returns the existing job instead.
func (r *Repo) CreateJobOrGetExisting(ctx context.Context, job *Job) (*Job, bool, error) {
	if job.IdempotencyKey == nil || *job.IdempotencyKey == "" {
		job.IdempotencyKey = nil
		if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
			return nil, false, err
		}
		return job, true, nil
	}

	existing, err := r.GetJobByUserAndIdempotencyKey(ctx, job.UserID, *job.IdempotencyKey)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	createErr := r.db.WithContext(ctx).Create(job).Error
	if createErr == nil {
		return job, true, nil
	}

	// lost a race with a concurrent request carrying the same key
	existing, getErr := r.GetJobByUserAndIdempotencyKey(ctx, job.UserID, *job.IdempotencyKey)
	if getErr == nil {
		return existing, false, nil
	}
	if errors.Is(getErr, gorm.ErrRecordNotFound) {
		return nil, false, createErr
	}
	return nil, false, getErr
}
