/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

const (
	identityMatchKey  = "match_id"
	identityPlayerKey = "player_id"
)

// IdentityStore remembers which player this device claimed.
type IdentityStore interface {
	Load(matchID string) (string, bool)
	Save(matchID, playerID string) error
	Clear() error
}

type fileIdentityStore struct {
	path string
	v    *viper.Viper
}

func defaultIdentityPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "hiddenroles", "identity.json")
}

func newFileIdentityStore(path string) (*fileIdentityStore, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	return &fileIdentityStore{path: path, v: v}, nil
}

// Load returns the claimed player id, but only for the match it was
// claimed in.
func (s *fileIdentityStore) Load(matchID string) (string, bool) {
	if s.v.GetString(identityMatchKey) != matchID {
		return "", false
	}
	id := s.v.GetString(identityPlayerKey)
	return id, id != ""
}

func (s *fileIdentityStore) Save(matchID, playerID string) error {
	s.v.Set(identityMatchKey, matchID)
	s.v.Set(identityPlayerKey, playerID)
	return s.write()
}

func (s *fileIdentityStore) Clear() error {
	s.v.Set(identityMatchKey, "")
	s.v.Set(identityPlayerKey, "")
	return s.write()
}

func (s *fileIdentityStore) write() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	return s.v.WriteConfigAs(s.path)
}
