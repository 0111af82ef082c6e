package theme

import (
	"context"
	"fmt"
	"strconv"

	"github.com/utayomi/utaapi/common"
	"github.com/utayomi/utaapi/common/model"
)

// ThemeClient is the lower-level interface over the backend's /themes
// endpoints. Every error it returns is an *common.ApiError; notably,
// GetToday returns status 404 while today's theme is not yet published.
type ThemeClient interface {
	GetToday(ctx context.Context, category string) (*model.Theme, error)
	GetLatest(ctx context.Context, category string, limit int) ([]model.Theme, error)
	GetByID(ctx context.Context, id int64) (*model.Theme, error)
}

type themeClient struct {
	api common.ApiClient
}

// NewThemeClient constructs a ThemeClient over the shared ApiClient.
func NewThemeClient(api common.ApiClient) ThemeClient {
	return &themeClient{api: api}
}

func (c *themeClient) GetToday(ctx context.Context, category string) (*model.Theme, error) {
	params := map[string]string{"category": category}
	var t model.Theme
	if err := c.api.GetJSON(ctx, "themes/today", params, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *themeClient) GetLatest(ctx context.Context, category string, limit int) ([]model.Theme, error) {
	params := map[string]string{
		"category": category,
		"limit":    strconv.Itoa(limit),
	}
	var themes []model.Theme
	if err := c.api.GetJSON(ctx, "themes", params, &themes); err != nil {
		return nil, err
	}
	return themes, nil
}

func (c *themeClient) GetByID(ctx context.Context, id int64) (*model.Theme, error) {
	var t model.Theme
	if err := c.api.GetJSON(ctx, fmt.Sprintf("themes/%d", id), nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}
