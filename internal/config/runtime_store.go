// Cubo - Health Records Pivot Analytics Service
// Copyright 2026 Cubo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/saludbi/cubo

package config

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/saludbi/cubo/internal/logging"
)

// runtimeDBConfigKey is the BadgerDB key holding the saved warehouse config.
const runtimeDBConfigKey = "config:warehouse:v1"

// storedDBConfig is the persisted form. The password never hits disk in
// clear text.
type storedDBConfig struct {
	Config            RuntimeDBConfig `json:"config"`
	EncryptedPassword string          `json:"encrypted_password,omitempty"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// RuntimeStore persists the warehouse connection settings and keeps the
// authoritative in-memory copy.
//
// Load prefers a saved configuration over the environment seed; Save is
// last-writer-wins with no merging.
type RuntimeStore struct {
	db        *badger.DB
	encryptor *CredentialEncryptor
	seed      *RuntimeDBConfig

	mu         sync.RWMutex
	current    RuntimeDBConfig
	hasCurrent bool
	updatedAt  time.Time
}

// NewRuntimeStore creates a store over db. seed may be nil.
func NewRuntimeStore(db *badger.DB, encryptor *CredentialEncryptor, seed *RuntimeDBConfig) *RuntimeStore {
	return &RuntimeStore{db: db, encryptor: encryptor, seed: seed}
}

// OpenBadger opens the BadgerDB used for runtime state.
func OpenBadger(cfg StoreConfig) (*badger.DB, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}
	return db, nil
}

// Load reads the saved configuration, falling back to the environment seed.
// It returns ErrConfigMissing when neither exists and ErrConfigInvalid when
// the one found cannot be used. On success the result becomes current.
func (s *RuntimeStore) Load(ctx context.Context) (RuntimeDBConfig, error) {
	if err := ctx.Err(); err != nil {
		return RuntimeDBConfig{}, err
	}

	var stored storedDBConfig
	found := true
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(runtimeDBConfigKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			found = false
			return nil
		}
		if err != nil {
			return fmt.Errorf("get warehouse config: %w", err)
		}
		return item.Value(func(val []byte) error {
			if uerr := json.Unmarshal(val, &stored); uerr != nil {
				return fmt.Errorf("%w: decode: %v", ErrConfigInvalid, uerr)
			}
			return nil
		})
	})
	if err != nil {
		return RuntimeDBConfig{}, err
	}

	if !found {
		return s.loadSeed(ctx)
	}

	cfg := stored.Config
	if stored.EncryptedPassword != "" {
		password, derr := s.encryptor.Decrypt(stored.EncryptedPassword)
		if derr != nil {
			return RuntimeDBConfig{}, fmt.Errorf("%w: password: %v", ErrConfigInvalid, derr)
		}
		cfg.Password = password
	}
	if verr := cfg.Validate(); verr != nil {
		return RuntimeDBConfig{}, verr
	}

	s.setCurrent(cfg, stored.UpdatedAt)
	logging.Ctx(ctx).Debug().Str("target", cfg.Target()).Msg("Loaded saved warehouse configuration")
	return cfg, nil
}

func (s *RuntimeStore) loadSeed(ctx context.Context) (RuntimeDBConfig, error) {
	if s.seed == nil {
		return RuntimeDBConfig{}, ErrConfigMissing
	}
	cfg := *s.seed
	if err := cfg.Validate(); err != nil {
		return RuntimeDBConfig{}, err
	}
	s.setCurrent(cfg, time.Time{})
	logging.Ctx(ctx).Debug().Str("target", cfg.Target()).Msg("Using warehouse configuration from environment")
	return cfg, nil
}

// Save validates cfg, persists it and makes it current.
func (s *RuntimeStore) Save(ctx context.Context, cfg RuntimeDBConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	stored := storedDBConfig{Config: cfg.Redacted(), UpdatedAt: time.Now().UTC()}
	if cfg.Password != "" {
		enc, err := s.encryptor.Encrypt(cfg.Password)
		if err != nil {
			return fmt.Errorf("encrypt warehouse password: %w", err)
		}
		stored.EncryptedPassword = enc
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("encode warehouse config: %w", err)
	}

	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(runtimeDBConfigKey), data)
	}); err != nil {
		return fmt.Errorf("save warehouse config: %w", err)
	}

	s.setCurrent(cfg, stored.UpdatedAt)
	logging.Ctx(ctx).Info().Str("target", cfg.Target()).Msg("Saved warehouse configuration")
	return nil
}

// Current returns the authoritative in-memory configuration. ok is false
// until a Load or Save succeeds.
func (s *RuntimeStore) Current() (cfg RuntimeDBConfig, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.hasCurrent
}

// UpdatedAt returns when the current configuration was saved. It is zero
// for the environment seed.
func (s *RuntimeStore) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

func (s *RuntimeStore) setCurrent(cfg RuntimeDBConfig, updatedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = cfg
	s.hasCurrent = true
	s.updatedAt = updatedAt
}
