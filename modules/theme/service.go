package theme

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/utayomi/utaapi/common"
	"github.com/utayomi/utaapi/common/model"
)

// ErrNoThemeForCategory means neither today's theme nor any past theme exists
// for the requested category.
var ErrNoThemeForCategory = errors.New("no theme available for category")

// The theme day rolls over at 06:00 JST, not at midnight: early-morning
// composers still write against yesterday's theme.
const themeRolloverHour = 6

// jst is fixed UTC+9; Japan has no DST, so no tzdata lookup is needed.
var jst = time.FixedZone("JST", 9*60*60)

// ThemeDay returns the logical theme-day string ("2006-01-02") for the given
// instant: the JST calendar date, or the previous date before 06:00 JST.
func ThemeDay(t time.Time) string {
	t = t.In(jst)
	if t.Hour() < themeRolloverHour {
		t = t.AddDate(0, 0, -1)
	}
	return t.Format("2006-01-02")
}

// untilNextRollover is the remaining lifetime of a category entry fetched at t.
func untilNextRollover(t time.Time) time.Duration {
	t = t.In(jst)
	next := time.Date(t.Year(), t.Month(), t.Day(), themeRolloverHour, 0, 0, 0, jst)
	if !t.Before(next) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(t)
}

// A past theme never changes, so id-keyed entries just get a housekeeping TTL.
const themeByIDExpiration = 720 * time.Hour

// ThemeService is the caching layer over ThemeClient. It guarantees at most
// one in-flight fetch per cache key (concurrent callers share the outcome),
// invalidates category entries at the theme-day boundary, and treats id-keyed
// entries as immutable.
type ThemeService interface {
	// GetByCategory returns today's theme for the category, falling back to
	// the most recent past theme while today's is not yet published.
	GetByCategory(ctx context.Context, category string) (*model.Theme, error)
	GetByID(ctx context.Context, id int64) (*model.Theme, error)
	// ClearCache drops every cached theme and re-anchors the epoch. Hosts
	// call it on app-background transitions and manual refresh.
	ClearCache()
	SetNowForTest(now func() time.Time)
}

type themeService struct {
	client  ThemeClient
	cache   common.CacheRepository
	flight  singleflight.Group
	logger  *zap.Logger
	nowFunc func() time.Time

	mu    sync.Mutex
	epoch string
}

// NewThemeService constructs a ThemeService. A nil cache gets an in-memory
// CacheRepository.
func NewThemeService(client ThemeClient, cache common.CacheRepository, logger *zap.Logger) ThemeService {
	if cache == nil {
		cache = common.NewMemoryCache()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &themeService{
		client:  client,
		cache:   cache,
		logger:  logger,
		nowFunc: time.Now,
	}
	s.epoch = ThemeDay(s.nowFunc())
	return s
}

func (s *themeService) SetNowForTest(now func() time.Time) {
	s.nowFunc = now
}

// Category keys embed the theme-day, so a rollover makes every old category
// entry unreachable without touching id-keyed entries.
func categoryKey(day, category string) string {
	return fmt.Sprintf("theme:cat:%s:%s", day, category)
}

func idKey(id int64) string {
	return fmt.Sprintf("theme:id:%d", id)
}

func (s *themeService) GetByCategory(ctx context.Context, category string) (*model.Theme, error) {
	now := s.nowFunc()
	day := ThemeDay(now)
	s.recordEpoch(day)

	key := categoryKey(day, category)
	if theme, ok := s.cachedTheme(key); ok {
		return theme, nil
	}

	v, err, _ := s.flight.Do(key, func() (interface{}, error) {
		// The fetch is shared by every concurrent caller for this key, so it
		// must not die with whichever caller happened to start it.
		fetchCtx := context.WithoutCancel(ctx)
		theme, err := s.fetchByCategory(fetchCtx, category)
		if err != nil {
			return nil, err
		}
		s.storeTheme(key, now, theme)
		return theme, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Theme), nil
}

func (s *themeService) GetByID(ctx context.Context, id int64) (*model.Theme, error) {
	key := idKey(id)
	if theme, ok := s.cachedTheme(key); ok {
		return theme, nil
	}

	v, err, _ := s.flight.Do(key, func() (interface{}, error) {
		fetchCtx := context.WithoutCancel(ctx)
		theme, err := s.client.GetByID(fetchCtx, id)
		if err != nil {
			return nil, err
		}
		if data, mErr := json.Marshal(theme); mErr == nil {
			s.cache.Set(key, data, themeByIDExpiration)
		}
		return theme, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Theme), nil
}

func (s *themeService) ClearCache() {
	s.cache.Clear()
	s.mu.Lock()
	s.epoch = ThemeDay(s.nowFunc())
	s.mu.Unlock()
	s.logger.Debug("theme cache cleared")
}

// recordEpoch tracks the day boundary so rollovers are visible in logs; the
// actual invalidation is the day string baked into category keys.
func (s *themeService) recordEpoch(day string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != day {
		s.logger.Info("theme day rolled over",
			zap.String("from", s.epoch),
			zap.String("to", day))
		s.epoch = day
	}
}

func (s *themeService) cachedTheme(key string) (*model.Theme, bool) {
	data, ok := s.cache.Get(key)
	if !ok {
		return nil, false
	}
	var theme model.Theme
	if err := model.JSONUnmarshal(data, &theme); err != nil {
		s.cache.Delete(key)
		return nil, false
	}
	return &theme, true
}

// fetchByCategory asks for today's theme and, while it is not yet published
// (404), falls back to the most recent past theme for the category.
func (s *themeService) fetchByCategory(ctx context.Context, category string) (*model.Theme, error) {
	theme, err := s.client.GetToday(ctx, category)
	if err == nil {
		return theme, nil
	}
	apiErr, ok := common.AsApiError(err)
	if !ok || apiErr.Status != http.StatusNotFound {
		return nil, err
	}

	s.logger.Debug("today's theme not published yet, falling back to latest",
		zap.String("category", category))
	latest, err := s.client.GetLatest(ctx, category, 1)
	if err != nil {
		return nil, err
	}
	if len(latest) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoThemeForCategory, category)
	}
	return &latest[0], nil
}

// storeTheme populates both the category key and the theme's own id key, so a
// later GetByID for the same theme is already warm.
func (s *themeService) storeTheme(catKey string, fetchedAt time.Time, theme *model.Theme) {
	data, err := json.Marshal(theme)
	if err != nil {
		return
	}
	s.cache.Set(catKey, data, untilNextRollover(fetchedAt))
	s.cache.Set(idKey(theme.ID), data, themeByIDExpiration)
}
