package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"gorm.io/datatypes"

	"tradeloop/internal/broker"
	"tradeloop/internal/models"
	"tradeloop/internal/repository"
)

const (
	FeatureScheduler   = "feature.scheduler"
	FeatureMidsStream  = "feature.mids_stream"
	FeatureLiveTrading = broker.LiveTradingSwitch
)

func DefaultFeatureSwitches() map[string]bool {
	return map[string]bool{
		FeatureScheduler:   true,
		FeatureMidsStream:  true,
		FeatureLiveTrading: false,
	}
}

const actorDefaults = "defaults"

type SystemSettingsService struct {
	Repo repository.Repository
}

// EnsureDefaultSwitches seeds missing switches. A stored OFF is upgraded to
// ON when the default is ON; an ON switch is never turned OFF.
func (s *SystemSettingsService) EnsureDefaultSwitches(ctx context.Context) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	now := time.Now().UTC()
	for key, enabled := range DefaultFeatureSwitches() {
		existing, err := s.Repo.GetSystemSettingByKey(ctx, key)
		if err != nil {
			return err
		}
		if existing != nil {
			if enabled && key != FeatureLiveTrading {
				var current bool
				if err := json.Unmarshal(existing.Value, &current); err == nil && !current {
					existing.Value = boolJSON(true)
					existing.UpdatedBy = actorDefaults
					existing.UpdatedAt = now
					if err := s.Repo.UpsertSystemSetting(ctx, existing); err != nil {
						return err
					}
				}
			}
			continue
		}
		item := &models.SystemSetting{
			Key:       key,
			Kind:      models.SettingKindSwitch,
			Value:     boolJSON(enabled),
			UpdatedBy: actorDefaults,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.Repo.UpsertSystemSetting(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

func (s *SystemSettingsService) IsEnabled(ctx context.Context, key string, fallback bool) bool {
	if s == nil || s.Repo == nil {
		return fallback
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fallback
	}
	item, err := s.Repo.GetSystemSettingByKey(ctx, key)
	if err != nil || item == nil || len(item.Value) == 0 {
		return fallback
	}
	var enabled bool
	if err := json.Unmarshal(item.Value, &enabled); err != nil {
		return fallback
	}
	return enabled
}

func (s *SystemSettingsService) SetEnabled(ctx context.Context, key string, enabled bool) error {
	return s.SetAs(ctx, key, boolJSON(enabled), "system")
}

// Get returns the raw setting, or nil when unset.
func (s *SystemSettingsService) Get(ctx context.Context, key string) (*models.SystemSetting, error) {
	if s == nil || s.Repo == nil {
		return nil, nil
	}
	return s.Repo.GetSystemSettingByKey(ctx, strings.TrimSpace(key))
}

func (s *SystemSettingsService) Set(ctx context.Context, key string, value json.RawMessage) error {
	return s.SetAs(ctx, key, value, "system")
}

// SetAs stores value under key and records who changed it. Known switches
// only accept a JSON boolean.
func (s *SystemSettingsService) SetAs(ctx context.Context, key string, value json.RawMessage, actor string) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	if !json.Valid(value) {
		return ErrInvalidSettingValue
	}
	kind := models.SettingKindValue
	if _, ok := DefaultFeatureSwitches()[key]; ok {
		var b bool
		if err := json.Unmarshal(value, &b); err != nil {
			return ErrInvalidSettingValue
		}
		kind = models.SettingKindSwitch
	}
	item := &models.SystemSetting{
		Key:       key,
		Kind:      kind,
		Value:     datatypes.JSON(value),
		UpdatedBy: strings.TrimSpace(actor),
		UpdatedAt: time.Now().UTC(),
	}
	return s.Repo.UpsertSystemSetting(ctx, item)
}

func boolJSON(v bool) datatypes.JSON {
	raw, _ := json.Marshal(v)
	return datatypes.JSON(raw)
}
