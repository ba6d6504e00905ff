package repository

import (
	"context"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/mo"
	"github.com/stanstork/jobwatch/internal/storage"
)

const lastJobKey = "last_job_id"

// JobRepository remembers which job the operator viewed last so monitoring
// can resume after a restart.
type JobRepository interface {
	LastViewed(ctx context.Context) (mo.Option[int64], error)
	SetLastViewed(ctx context.Context, jobID int64) error
	ClearLastViewed(ctx context.Context) error
}

type jobRepository struct {
	store storage.Store
}

func NewJobRepository(store storage.Store) JobRepository {
	return &jobRepository{store: store}
}

func (r *jobRepository) LastViewed(ctx context.Context) (mo.Option[int64], error) {
	raw, err := r.store.Get(ctx, lastJobKey)
	if errors.Is(err, storage.ErrNotFound) {
		return mo.None[int64](), nil
	}
	if err != nil {
		return mo.None[int64](), err
	}
	// Older clients stored the id as a JSON string.
	id, err := strconv.ParseInt(strings.Trim(strings.TrimSpace(string(raw)), `"`), 10, 64)
	if err != nil {
		return mo.None[int64](), errors.Wrapf(err, "parse %s", lastJobKey)
	}
	return mo.Some(id), nil
}

func (r *jobRepository) SetLastViewed(ctx context.Context, jobID int64) error {
	return r.store.Set(ctx, lastJobKey, []byte(strconv.FormatInt(jobID, 10)))
}

func (r *jobRepository) ClearLastViewed(ctx context.Context) error {
	return r.store.Delete(ctx, lastJobKey)
}
