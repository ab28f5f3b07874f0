package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"klausjudge/internal/common/cache"
	"klausjudge/internal/judge/model"
	appErr "klausjudge/pkg/errors"

	"github.com/google/uuid"
)

const progressKeyPrefix = "judge:progress:"

// Progress is the short-lived judging snapshot served by the status endpoint.
type Progress struct {
	SubmissionID uuid.UUID     `json:"submission_id"`
	WorkerID     string        `json:"worker_id"`
	Status       string        `json:"status"`
	Verdict      model.Verdict `json:"verdict,omitempty"`
	TotalTests   int           `json:"total_tests"`
	DoneTests    int           `json:"done_tests"`
	UpdatedAt    int64         `json:"updated_at"`
}

// ProgressRepository stores progress snapshots in Redis with a TTL.
type ProgressRepository struct {
	cache cache.Cache
	TTL   time.Duration
}

func NewProgressRepository(cacheClient cache.Cache, ttl time.Duration) *ProgressRepository {
	return &ProgressRepository{cache: cacheClient, TTL: ttl}
}

// Get returns the snapshot for a submission.
func (r *ProgressRepository) Get(ctx context.Context, submissionID uuid.UUID) (Progress, error) {
	if r.cache == nil {
		return Progress{}, appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	val, err := r.cache.Get(ctx, progressKeyPrefix+submissionID.String())
	if err != nil {
		return Progress{}, appErr.Wrapf(err, appErr.CacheError, "read progress failed")
	}
	if val == "" {
		return Progress{}, appErr.New(appErr.NotFound).WithMessage("submission progress not found")
	}
	var p Progress
	if err := json.Unmarshal([]byte(val), &p); err != nil {
		return Progress{}, appErr.Wrapf(err, appErr.CacheError, "decode progress failed")
	}
	return p, nil
}

// Save overwrites the snapshot.
func (r *ProgressRepository) Save(ctx context.Context, p Progress) error {
	if p.SubmissionID == uuid.Nil {
		return appErr.ValidationError("submission_id", "required")
	}
	if r.cache == nil {
		return appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal progress failed: %w", err)
	}
	if err := r.cache.Set(ctx, progressKeyPrefix+p.SubmissionID.String(), string(data), r.TTL); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "store progress failed")
	}
	return nil
}
