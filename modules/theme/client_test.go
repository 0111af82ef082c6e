package theme_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utayomi/utaapi/common"
	"github.com/utayomi/utaapi/modules/theme"
)

func newThemeClient(t *testing.T, handler http.Handler) theme.ThemeClient {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	api := common.NewApiClient(common.ClientConfig{BaseURL: ts.URL + "/"}, &http.Client{})
	api.SetSleepForTest(func(d time.Duration) {})
	return theme.NewThemeClient(api)
}

func TestThemeClient_GetToday(t *testing.T) {
	client := newThemeClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/themes/today", r.URL.Path)
		require.Equal(t, "seasonal", r.URL.Query().Get("category"))
		fmt.Fprint(w, `{"id":1,"category":"seasonal","text":"朝顔","date":"2026-08-26"}`)
	}))

	got, err := client.GetToday(context.Background(), "seasonal")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.ID)
	assert.Equal(t, "朝顔", got.Text)
}

func TestThemeClient_GetToday_NotFound(t *testing.T) {
	client := newThemeClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"detail":"theme not found"}`)
	}))

	_, err := client.GetToday(context.Background(), "seasonal")
	apiErr, ok := common.AsApiError(err)
	require.True(t, ok, "expected *ApiError, got %v", err)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "theme not found", apiErr.Detail)
}

func TestThemeClient_GetLatest(t *testing.T) {
	client := newThemeClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/themes", r.URL.Path)
		require.Equal(t, "seasonal", r.URL.Query().Get("category"))
		require.Equal(t, "1", r.URL.Query().Get("limit"))
		fmt.Fprint(w, `[{"id":9,"category":"seasonal","text":"夕立","date":"2026-08-25"}]`)
	}))

	got, err := client.GetLatest(context.Background(), "seasonal", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(9), got[0].ID)
}

func TestThemeClient_GetByID(t *testing.T) {
	client := newThemeClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/themes/42", r.URL.Path)
		fmt.Fprint(w, `{"id":42,"category":"daily","text":"花火","date":"2026-08-20"}`)
	}))

	got, err := client.GetByID(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "daily", got.Category)
}
