package auth

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/utayomi/utaapi/common"
	"github.com/utayomi/utaapi/common/model"
)

// AuthClient is the lower-level interface over the backend's /auth endpoints.
// Every error it returns is an *common.ApiError.
type AuthClient interface {
	SignUp(ctx context.Context, data model.SignUpRequest) (*model.AuthResponse, error)
	Login(ctx context.Context, data model.LoginRequest) (*model.AuthResponse, error)
	OAuthCallback(ctx context.Context, providerToken *oauth2.Token) (*model.AuthResponse, error)
	Profile(ctx context.Context) (*model.UserProfile, error)
	// RefreshToken exchanges a refresh token for a new session pair.
	// Returns a new *oauth2.Token on success, or an error if refresh fails.
	RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

type authClient struct {
	api common.ApiClient
}

// NewAuthClient constructs an AuthClient over the shared ApiClient.
func NewAuthClient(api common.ApiClient) AuthClient {
	return &authClient{api: api}
}

func (c *authClient) SignUp(ctx context.Context, data model.SignUpRequest) (*model.AuthResponse, error) {
	var resp model.AuthResponse
	if err := c.api.PostJSON(ctx, "auth/signup", data, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *authClient) Login(ctx context.Context, data model.LoginRequest) (*model.AuthResponse, error) {
	var resp model.AuthResponse
	if err := c.api.PostJSON(ctx, "auth/login", data, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// oauthCallbackRequest forwards the provider's tokens to the backend, which
// verifies them and mints its own session.
type oauthCallbackRequest struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

func (c *authClient) OAuthCallback(ctx context.Context, providerToken *oauth2.Token) (*model.AuthResponse, error) {
	if providerToken == nil || providerToken.AccessToken == "" {
		return nil, fmt.Errorf("no provider token given")
	}
	body := oauthCallbackRequest{
		AccessToken:  providerToken.AccessToken,
		RefreshToken: providerToken.RefreshToken,
	}
	var resp model.AuthResponse
	if err := c.api.PostJSON(ctx, "auth/oauth/callback", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *authClient) Profile(ctx context.Context) (*model.UserProfile, error) {
	var profile model.UserProfile
	if err := c.api.GetJSON(ctx, "auth/profile", nil, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (c *authClient) RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	var tokens model.SessionTokens
	if err := c.api.PostJSON(ctx, "auth/refresh", refreshRequest{RefreshToken: refreshToken}, &tokens); err != nil {
		return nil, fmt.Errorf("token refresh failed: %w", err)
	}
	tok := &oauth2.Token{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
	}
	if tokens.ExpiresIn > 0 {
		tok.Expiry = time.Now().Add(time.Duration(tokens.ExpiresIn) * time.Second)
	}
	return tok, nil
}
