package model

import (
	"encoding/json"
	"time"
)

// If you want a helper for JSON unmarshal:
func JSONUnmarshal(data []byte, out interface{}) error {
	return json.Unmarshal(data, out)
}

// ----------------------------------------------------------------------
// Theme data structures
// ----------------------------------------------------------------------

// Theme is a daily composition theme (お題) as returned by the backend.
// A theme belongs to a category and is published once per theme-day.
type Theme struct {
	ID       int64  `json:"id"`
	Category string `json:"category"`
	Text     string `json:"text"`
	Date     string `json:"date"` // theme-day, e.g. "2026-08-26"
}

// ----------------------------------------------------------------------
// Auth / session data structures
// ----------------------------------------------------------------------

// UserProfile is the profile snapshot persisted alongside the access token.
type UserProfile struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
}

// SessionTokens is the backend's session pair.
type SessionTokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"` // seconds
}

// ExpiresAt converts ExpiresIn into an absolute instant relative to now.
// Returns the zero time when the backend sent no expiry.
func (s *SessionTokens) ExpiresAt(now time.Time) time.Time {
	if s == nil || s.ExpiresIn <= 0 {
		return time.Time{}
	}
	return now.Add(time.Duration(s.ExpiresIn) * time.Second)
}

// AuthResponse is the shape returned by signup, login and the OAuth callback.
type AuthResponse struct {
	UserID      string         `json:"user_id"`
	Email       string         `json:"email"`
	DisplayName string         `json:"display_name,omitempty"`
	Session     *SessionTokens `json:"session,omitempty"`
}

// Profile derives the persistable profile snapshot from an auth response.
func (r *AuthResponse) Profile() *UserProfile {
	return &UserProfile{
		UserID:      r.UserID,
		Email:       r.Email,
		DisplayName: r.DisplayName,
	}
}

// SignUpRequest is the payload for POST /auth/signup.
type SignUpRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name,omitempty"`
}

// LoginRequest is the payload for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
