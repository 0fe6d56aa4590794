// Package config generalizes the teacher's ConfigManager into typed
// getters/setters over the Store's key/value Setting table, for ad
// hoc keys that sit outside the fixed-schema GlobalSettings struct
// (startup notice, user agent override).
package config

import (
	"strconv"

	"github.com/lc5900/flamingo-downloader/internal/store"
)

type Store struct {
	st *store.Store
}

func New(st *store.Store) *Store {
	return &Store{st: st}
}

func (c *Store) GetString(key, fallback string) string {
	val, err := c.st.GetString(key)
	if err != nil || val == "" {
		return fallback
	}
	return val
}

func (c *Store) SetString(key, value string) error {
	return c.st.SetString(key, value)
}

func (c *Store) GetInt(key string, fallback int) int {
	val, err := c.st.GetString(key)
	if err != nil || val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return n
}

func (c *Store) SetInt(key string, value int) error {
	return c.st.SetString(key, strconv.Itoa(value))
}

func (c *Store) GetBool(key string, fallback bool) bool {
	val, err := c.st.GetString(key)
	if err != nil || val == "" {
		return fallback
	}
	return val == "true"
}

func (c *Store) SetBool(key string, value bool) error {
	v := "false"
	if value {
		v = "true"
	}
	return c.st.SetString(key, v)
}

// SeedDefaultsIfAbsent writes the first-run GlobalSettings defaults
// only when download_dir has never been set, matching spec 4.1's
// "seed defaults on first run" bootstrap step.
func SeedDefaultsIfAbsent(st *store.Store, downloadDir string) error {
	existing, err := st.GetString(store.KeyDownloadDir)
	if err != nil {
		return err
	}
	if existing != "" {
		return nil
	}
	defaults := store.DefaultGlobalSettings()
	defaults.DownloadDir = downloadDir
	return st.SaveGlobalSettings(defaults)
}
