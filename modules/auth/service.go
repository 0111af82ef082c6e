package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/utayomi/utaapi/common"
	"github.com/utayomi/utaapi/common/model"
)

// How close to token expiry the validation hook starts refreshing.
const refreshWindow = 60 * time.Second

// SessionService owns the single source of truth for "is the user
// authenticated, and as whom". It persists the access token and a profile
// snapshot to durable storage, restores them on startup, and configures the
// shared ApiClient's bearer token and validation hook at login/logout time.
type SessionService interface {
	SignUp(ctx context.Context, data model.SignUpRequest) error
	Login(ctx context.Context, data model.LoginRequest) error
	LoginWithOAuth(ctx context.Context, providerToken *oauth2.Token) error
	// Logout clears persisted keys, the client token and in-memory state.
	// State is reset even when the returned storage error is non-nil.
	Logout(ctx context.Context) error
	// LoadStoredSession restores a persisted session at process start.
	// A reachable backend refreshes the profile; an unreachable one leaves
	// the cached profile in place; only a token-expiry error forces logout.
	LoadStoredSession(ctx context.Context) error

	IsAuthenticated() bool
	Profile() *model.UserProfile
	// ErrorMessage is the detail of the last failed auth operation, cleared
	// on the next successful one.
	ErrorMessage() string
}

type sessionService struct {
	api        common.ApiClient
	authClient AuthClient
	store      common.SessionStore
	logger     *zap.Logger

	mu            sync.RWMutex
	authenticated bool
	profile       *model.UserProfile
	refreshToken  string
	expiresAt     time.Time
	errMsg        string

	refreshing atomic.Bool
}

// NewSessionService constructs a SessionService. All collaborators are
// injected; there is no package-level state.
func NewSessionService(api common.ApiClient, authClient AuthClient, store common.SessionStore, logger *zap.Logger) SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &sessionService{
		api:        api,
		authClient: authClient,
		store:      store,
		logger:     logger,
	}
}

func (s *sessionService) SignUp(ctx context.Context, data model.SignUpRequest) error {
	resp, err := s.authClient.SignUp(ctx, data)
	if err != nil {
		return s.authFailed("sign-up", err)
	}
	return s.establishSession(resp)
}

func (s *sessionService) Login(ctx context.Context, data model.LoginRequest) error {
	resp, err := s.authClient.Login(ctx, data)
	if err != nil {
		return s.authFailed("login", err)
	}
	return s.establishSession(resp)
}

func (s *sessionService) LoginWithOAuth(ctx context.Context, providerToken *oauth2.Token) error {
	resp, err := s.authClient.OAuthCallback(ctx, providerToken)
	if err != nil {
		return s.authFailed("oauth login", err)
	}
	return s.establishSession(resp)
}

// authFailed records the normalized detail as the session error message and
// leaves authentication state untouched.
func (s *sessionService) authFailed(op string, err error) error {
	msg := err.Error()
	if apiErr, ok := common.AsApiError(err); ok {
		msg = apiErr.Detail
	}
	s.mu.Lock()
	s.errMsg = msg
	s.mu.Unlock()
	s.logger.Warn("auth operation failed", zap.String("op", op), zap.Error(err))
	return err
}

// establishSession persists the session and flips in-memory state. Storage
// writes are both-or-neither: a failed write rolls back any partial one and
// leaves the service unauthenticated.
func (s *sessionService) establishSession(resp *model.AuthResponse) error {
	if resp.Session == nil || resp.Session.AccessToken == "" {
		return s.authFailed("session", fmt.Errorf("auth response carried no session"))
	}
	profile := resp.Profile()

	if err := s.persistSession(resp.Session.AccessToken, profile); err != nil {
		return s.authFailed("session", err)
	}

	s.api.SetAccessToken(resp.Session.AccessToken)
	s.api.SetTokenValidationHook(s.validateToken)

	s.mu.Lock()
	s.authenticated = true
	s.profile = profile
	s.refreshToken = resp.Session.RefreshToken
	s.expiresAt = resp.Session.ExpiresAt(time.Now())
	s.errMsg = ""
	s.mu.Unlock()

	s.logger.Info("session established", zap.String("user_id", profile.UserID))
	return nil
}

func (s *sessionService) persistSession(token string, profile *model.UserProfile) error {
	profileJSON, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}
	if err := s.store.Set(common.StorageKeyAccessToken, []byte(token)); err != nil {
		return err
	}
	if err := s.store.Set(common.StorageKeyProfile, profileJSON); err != nil {
		// roll back the token write so storage never holds half a session
		if delErr := s.store.DeleteAll(common.StorageKeyAccessToken); delErr != nil {
			s.logger.Error("failed to roll back partial session write", zap.Error(delErr))
		}
		return err
	}
	return nil
}

func (s *sessionService) Logout(ctx context.Context) error {
	s.api.SetTokenValidationHook(nil)
	s.api.SetAccessToken("")

	err := s.store.DeleteAll(common.StorageKeyAccessToken, common.StorageKeyProfile)
	if err != nil {
		s.logger.Error("failed to clear persisted session", zap.Error(err))
	}

	s.mu.Lock()
	s.authenticated = false
	s.profile = nil
	s.refreshToken = ""
	s.expiresAt = time.Time{}
	s.errMsg = ""
	s.mu.Unlock()

	s.logger.Info("logged out")
	return err
}

func (s *sessionService) LoadStoredSession(ctx context.Context) error {
	tokenBytes, tokenFound, err := s.store.Get(common.StorageKeyAccessToken)
	if err != nil {
		s.logger.Warn("failed to read stored token", zap.Error(err))
	}
	profileBytes, profileFound, err := s.store.Get(common.StorageKeyProfile)
	if err != nil {
		s.logger.Warn("failed to read stored profile", zap.Error(err))
	}

	if !tokenFound && !profileFound {
		return nil // nothing persisted; stay unauthenticated, no network call
	}

	var cached model.UserProfile
	if !tokenFound || !profileFound || json.Unmarshal(profileBytes, &cached) != nil {
		// half a session or an unreadable profile; clear it rather than guess
		s.logger.Warn("stored session is incomplete or corrupt, clearing it")
		if delErr := s.store.DeleteAll(common.StorageKeyAccessToken, common.StorageKeyProfile); delErr != nil {
			s.logger.Error("failed to clear corrupt session", zap.Error(delErr))
		}
		return nil
	}

	// Set the token immediately so the host can optimistically render as
	// logged in while the profile check runs.
	s.api.SetAccessToken(string(tokenBytes))
	s.api.SetTokenValidationHook(s.validateToken)
	s.mu.Lock()
	s.authenticated = true
	s.profile = &cached
	s.mu.Unlock()

	fresh, err := s.authClient.Profile(ctx)
	if err != nil {
		if apiErr, ok := common.AsApiError(err); ok && apiErr.IsTokenExpired() {
			// the only path that forces logout from a background check
			s.logger.Info("stored token expired, forcing logout")
			return s.Logout(ctx)
		}
		// server unreachable or otherwise unhappy: favor availability and
		// keep the cached profile
		s.logger.Warn("profile refresh failed, using cached profile", zap.Error(err))
		return nil
	}

	s.mu.Lock()
	s.profile = fresh
	s.mu.Unlock()

	if freshJSON, mErr := json.Marshal(fresh); mErr == nil {
		if setErr := s.store.Set(common.StorageKeyProfile, freshJSON); setErr != nil {
			s.logger.Warn("failed to persist refreshed profile", zap.Error(setErr))
		}
	}
	s.logger.Info("session restored", zap.String("user_id", fresh.UserID))
	return nil
}

func (s *sessionService) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated
}

func (s *sessionService) Profile() *model.UserProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile
}

func (s *sessionService) ErrorMessage() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.errMsg
}

// validateToken is installed as the ApiClient's validation hook. It refreshes
// the session pair when the access token is inside the refresh window. The
// refreshing flag keeps the refresh call itself (which goes through the same
// ApiClient) from re-entering the hook, and collapses concurrent refreshes.
func (s *sessionService) validateToken(ctx context.Context) error {
	s.mu.RLock()
	refreshToken := s.refreshToken
	expiresAt := s.expiresAt
	s.mu.RUnlock()

	if refreshToken == "" || expiresAt.IsZero() {
		return nil
	}
	if time.Until(expiresAt) > refreshWindow {
		return nil
	}
	if !s.refreshing.CompareAndSwap(false, true) {
		return nil
	}
	defer s.refreshing.Store(false)

	tok, err := s.authClient.RefreshToken(ctx, refreshToken)
	if err != nil {
		return err
	}

	s.api.SetAccessToken(tok.AccessToken)
	s.mu.Lock()
	if tok.RefreshToken != "" {
		s.refreshToken = tok.RefreshToken
	}
	s.expiresAt = tok.Expiry
	s.mu.Unlock()

	if err := s.store.Set(common.StorageKeyAccessToken, []byte(tok.AccessToken)); err != nil {
		s.logger.Warn("failed to persist refreshed token", zap.Error(err))
	}
	s.logger.Debug("access token refreshed")
	return nil
}
