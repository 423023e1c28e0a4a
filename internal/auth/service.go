package auth

import (
	"context"
	"time"

	pkgAuth "github.com/angelmondragon/engagement-tracker/pkg/auth"
	"github.com/angelmondragon/engagement-tracker/pkg/config"
	pkgerrors "github.com/angelmondragon/engagement-tracker/pkg/errors"
	"github.com/angelmondragon/engagement-tracker/pkg/security"
)

const invalidCredentialsMessage = "invalid credentials"

// Service defines the behavior needed by the auth controller.
type Service interface {
	Login(ctx context.Context, req LoginRequest) (*LoginResponse, error)
}

type service struct {
	cfg config.AuthConfig
	now func() time.Time
}

// ServiceParams bundles the dependencies required to build an auth service.
type ServiceParams struct {
	Config config.AuthConfig
	Clock  func() time.Time
}

// NewService constructs the dashboard login service. The single dashboard
// account is defined by configuration.
func NewService(params ServiceParams) (Service, error) {
	if !params.Config.Enabled() {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "dashboard auth is not configured")
	}
	if params.Config.JWTIssuer == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "jwt issuer is required")
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &service{cfg: params.Config, now: clock}, nil
}

func (s *service) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	// Always verify the hash so unknown usernames cost the same as bad passwords.
	ok, err := security.VerifyPassword(req.Password, s.cfg.DashboardPassword)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "verify dashboard password")
	}
	if !security.UsernameMatches(s.cfg.DashboardUsername, req.Username) || !ok {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidCredentialsMessage)
	}

	token, expiresAt, err := pkgAuth.MintAccessToken(s.cfg, s.now().UTC(), s.cfg.DashboardUsername)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mint access token")
	}
	return &LoginResponse{AccessToken: token, TokenType: "Bearer", ExpiresAt: expiresAt}, nil
}
