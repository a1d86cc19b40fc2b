package sync

import (
	"fmt"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
)

// settingsCollection holds one record per configuration key.
const settingsCollection = "app_settings"

// SettingsStore persists key-value settings in the embedded database.
// It satisfies the Store interface used by StatusStore.
type SettingsStore struct {
	app core.App
}

// NewSettingsStore returns a store backed by the app_settings collection.
func NewSettingsStore(app core.App) *SettingsStore {
	return &SettingsStore{app: app}
}

// Get returns the stored value for key and whether the key exists.
func (s *SettingsStore) Get(key string) (string, bool) {
	record, err := s.app.FindFirstRecordByFilter(
		settingsCollection,
		"key = {:key}",
		dbx.Params{"key": key},
	)
	if err != nil {
		return "", false
	}
	return record.GetString("value"), true
}

// Set writes value under key, creating the record on first use.
func (s *SettingsStore) Set(key, value string) error {
	record, err := s.app.FindFirstRecordByFilter(
		settingsCollection,
		"key = {:key}",
		dbx.Params{"key": key},
	)
	if err != nil {
		collection, err := s.app.FindCollectionByNameOrId(settingsCollection)
		if err != nil {
			return fmt.Errorf("finding %s collection: %w", settingsCollection, err)
		}
		record = core.NewRecord(collection)
		record.Set("key", key)
	}

	record.Set("value", value)
	if err := s.app.Save(record); err != nil {
		return fmt.Errorf("saving setting %s: %w", key, err)
	}
	return nil
}

// EnsureSettingsCollection creates the app_settings collection on first
// boot. Existing deployments pass through untouched.
func EnsureSettingsCollection(app core.App) error {
	if _, err := app.FindCollectionByNameOrId(settingsCollection); err == nil {
		return nil
	}

	collection := core.NewBaseCollection(settingsCollection)
	collection.Fields.Add(
		&core.TextField{Name: "key", Required: true},
		&core.TextField{Name: "value"},
		&core.AutodateField{Name: "created", OnCreate: true},
		&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
	)
	collection.AddIndex("idx_app_settings_key", true, "key", "")

	if err := app.Save(collection); err != nil {
		return fmt.Errorf("creating %s collection: %w", settingsCollection, err)
	}
	return nil
}
