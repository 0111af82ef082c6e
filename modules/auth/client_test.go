package auth_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/utayomi/utaapi/common"
	"github.com/utayomi/utaapi/common/model"
	"github.com/utayomi/utaapi/modules/auth"
)

func newAuthClient(t *testing.T, handler http.Handler) auth.AuthClient {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	api := common.NewApiClient(common.ClientConfig{BaseURL: ts.URL + "/"}, &http.Client{})
	api.SetSleepForTest(func(d time.Duration) {})
	return auth.NewAuthClient(api)
}

func TestAuthClient_Login(t *testing.T) {
	client := newAuthClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/auth/login", r.URL.Path)

		var req model.LoginRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "basho@example.com", req.Email)

		fmt.Fprint(w, `{"user_id":"u1","email":"basho@example.com","session":{"access_token":"tok-1"}}`)
	}))

	resp, err := client.Login(context.Background(), model.LoginRequest{Email: "basho@example.com", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "u1", resp.UserID)
	require.NotNil(t, resp.Session)
	assert.Equal(t, "tok-1", resp.Session.AccessToken)
}

func TestAuthClient_SignUp(t *testing.T) {
	client := newAuthClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/signup", r.URL.Path)
		fmt.Fprint(w, `{"user_id":"u2","email":"issa@example.com","display_name":"Issa","session":{"access_token":"tok-2"}}`)
	}))

	resp, err := client.SignUp(context.Background(), model.SignUpRequest{Email: "issa@example.com", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "Issa", resp.DisplayName)
}

func TestAuthClient_OAuthCallback(t *testing.T) {
	client := newAuthClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/oauth/callback", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "provider-tok", body["access_token"])
		fmt.Fprint(w, `{"user_id":"u3","email":"buson@example.com","session":{"access_token":"tok-3"}}`)
	}))

	resp, err := client.OAuthCallback(context.Background(), &oauth2.Token{AccessToken: "provider-tok"})
	require.NoError(t, err)
	assert.Equal(t, "u3", resp.UserID)

	_, err = client.OAuthCallback(context.Background(), nil)
	assert.Error(t, err, "nil provider token must be rejected client-side")
}

func TestAuthClient_RefreshToken(t *testing.T) {
	client := newAuthClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/refresh", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "refresh-1", body["refresh_token"])
		fmt.Fprint(w, `{"access_token":"tok-new","refresh_token":"refresh-new","expires_in":3600}`)
	}))

	tok, err := client.RefreshToken(context.Background(), "refresh-1")
	require.NoError(t, err)
	assert.Equal(t, "tok-new", tok.AccessToken)
	assert.Equal(t, "refresh-new", tok.RefreshToken)
	assert.WithinDuration(t, time.Now().Add(time.Hour), tok.Expiry, 5*time.Second)
}

func TestAuthClient_ProfileErrorShape(t *testing.T) {
	client := newAuthClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"detail":"token expired","code":"token_expired"}`)
	}))

	_, err := client.Profile(context.Background())
	apiErr, ok := common.AsApiError(err)
	require.True(t, ok, "auth client must surface *ApiError, got %v", err)
	assert.True(t, apiErr.IsTokenExpired())
}
