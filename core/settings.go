package core

import (
	"context"
	"errors"
)

// =============================================================================
// SETTINGS
// =============================================================================

// SettingBaseCurrency records the base currency the shop's amounts are booked in.
const SettingBaseCurrency = "base_currency"

// Setting is a named value kept next to the shop's records, so it lives and
// dies with the data it describes.
type Setting struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func (s Setting) Key() string { return s.Name }

func (s Setting) Clone() Setting { return s }

// StoredBase returns the recorded base currency, or "" if none was recorded.
func StoredBase(ctx context.Context, s Store) (Currency, error) {
	set, err := s.Settings().Get(ctx, SettingBaseCurrency)
	if IsNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return Currency(set.Value), nil
}

// SaveBase records cur as the base currency.
func SaveBase(ctx context.Context, s Store, cur Currency) error {
	if cur == "" {
		return errors.New("save base currency: empty code")
	}
	return s.Settings().Put(ctx, Setting{Name: SettingBaseCurrency, Value: string(cur)})
}
