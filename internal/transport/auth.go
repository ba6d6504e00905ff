package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/stanstork/jobwatch/internal/config"
	"github.com/stanstork/jobwatch/internal/models"
)

type userPayload struct {
	ID       json.Number `json:"id"`
	Name     string      `json:"name"`
	Email    string      `json:"email"`
	Role     string      `json:"role"`
	TenantID string      `json:"tenantId"`
}

type tokenPayload struct {
	Token        string       `json:"token"`
	RefreshToken string       `json:"refreshToken"`
	ExpiresInSec *int64       `json:"expiresInSec"`
	User         *userPayload `json:"user"`
}

func (p tokenPayload) grant() (models.TokenGrant, error) {
	if p.Token == "" {
		return models.TokenGrant{}, &Error{Kind: KindDecode, Message: "response carries no token"}
	}
	g := models.TokenGrant{AccessToken: p.Token, RefreshToken: p.RefreshToken}
	if p.ExpiresInSec != nil {
		g.ExpiresIn = time.Duration(*p.ExpiresInSec) * time.Second
	}
	if p.User != nil {
		g.Principal = &models.Principal{
			ID:       p.User.ID.String(),
			Name:     p.User.Name,
			Email:    p.User.Email,
			Role:     p.User.Role,
			TenantID: p.User.TenantID,
		}
	}
	return g, nil
}

// AuthAPI talks to the unauthenticated auth endpoints. It is built on its own
// Client so it never re-enters the session manager it serves.
type AuthAPI struct {
	client    *Client
	endpoints config.Endpoints
}

func NewAuthAPI(baseURL string, endpoints config.Endpoints, opts ...Option) *AuthAPI {
	return &AuthAPI{
		client:    NewClient(baseURL, nil, opts...),
		endpoints: endpoints,
	}
}

func (a *AuthAPI) Login(ctx context.Context, email, password string) (models.TokenGrant, error) {
	var payload tokenPayload
	err := a.client.Do(ctx, http.MethodPost, a.endpoints.Login, &payload,
		Unauthenticated(),
		WithBody(map[string]string{"email": email, "password": password}),
	)
	if err != nil {
		return models.TokenGrant{}, errors.Wrap(err, "login")
	}
	return payload.grant()
}

// Refresh exchanges a refresh token for a new access token. The refresh
// token travels both as bearer credential and in the body.
func (a *AuthAPI) Refresh(ctx context.Context, refreshToken string) (models.TokenGrant, error) {
	var payload tokenPayload
	err := a.client.Do(ctx, http.MethodPost, a.endpoints.Refresh, &payload,
		Unauthenticated(),
		WithHeader("Authorization", "Bearer "+refreshToken),
		WithBody(map[string]string{"refreshToken": refreshToken}),
	)
	if err != nil {
		return models.TokenGrant{}, errors.Wrap(err, "refresh token")
	}
	return payload.grant()
}
