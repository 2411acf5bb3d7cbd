package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cogivn/daisy-flower-sub000/internal/models"
	"github.com/cogivn/daisy-flower-sub000/internal/redisclient"
	"github.com/cogivn/daisy-flower-sub000/internal/util"

	"go.uber.org/zap"
)

const levelSettingsCacheKey = "user-level-settings"

// LevelSettingsProvider hands out read-only snapshots of the threshold
// table, cached in Redis when a cache is configured.
type LevelSettingsProvider struct {
	users  UserStore
	cache  Cache
	ttl    time.Duration
	logger *zap.Logger
}

// NewLevelSettingsProvider creates a provider. cache may be nil.
func NewLevelSettingsProvider(users UserStore, cache Cache, ttl time.Duration) *LevelSettingsProvider {
	return &LevelSettingsProvider{
		users:  users,
		cache:  cache,
		ttl:    ttl,
		logger: util.Component("level-settings"),
	}
}

// Snapshot returns the current threshold table
func (p *LevelSettingsProvider) Snapshot(ctx context.Context) (models.LevelSettings, error) {
	if p.cache != nil {
		var rows []models.LevelSetting
		err := p.cache.GetJSON(ctx, levelSettingsCacheKey, &rows)
		if err == nil {
			return models.NewLevelSettings(rows), nil
		}
		if !errors.Is(err, redisclient.ErrCacheMiss) {
			p.logger.Warn("Level settings cache read failed", zap.Error(err))
		}
	}

	settings, err := p.users.GetLevelSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load level settings: %w", err)
	}

	if p.cache != nil {
		if err := p.cache.SetJSON(ctx, levelSettingsCacheKey, []models.LevelSetting(settings), p.ttl); err != nil {
			p.logger.Warn("Level settings cache write failed", zap.Error(err))
		}
	}
	return settings, nil
}

// Invalidate drops the cached snapshot after the table was written
func (p *LevelSettingsProvider) Invalidate(ctx context.Context) {
	if p.cache == nil {
		return
	}
	if err := p.cache.Delete(ctx, levelSettingsCacheKey); err != nil {
		p.logger.Warn("Level settings cache invalidation failed", zap.Error(err))
	}
}
