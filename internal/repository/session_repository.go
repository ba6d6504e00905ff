package repository

import (
	"context"

	"github.com/pkg/errors"
	"github.com/samber/mo"
	"github.com/stanstork/jobwatch/internal/models"
	"github.com/stanstork/jobwatch/internal/storage"
)

const sessionKey = "session"

type SessionRepository interface {
	Load(ctx context.Context) (mo.Option[models.Session], error)
	Save(ctx context.Context, session models.Session) error
	Delete(ctx context.Context) error
}

type sessionRepository struct {
	store storage.Store
}

func NewSessionRepository(store storage.Store) SessionRepository {
	return &sessionRepository{store: store}
}

func (r *sessionRepository) Load(ctx context.Context) (mo.Option[models.Session], error) {
	var s models.Session
	err := storage.GetJSON(ctx, r.store, sessionKey, &s)
	if errors.Is(err, storage.ErrNotFound) {
		return mo.None[models.Session](), nil
	}
	if err != nil {
		return mo.None[models.Session](), err
	}
	if s.AccessToken == "" {
		return mo.None[models.Session](), nil
	}
	return mo.Some(s), nil
}

func (r *sessionRepository) Save(ctx context.Context, session models.Session) error {
	return storage.SetJSON(ctx, r.store, sessionKey, session)
}

func (r *sessionRepository) Delete(ctx context.Context) error {
	return r.store.Delete(ctx, sessionKey)
}
