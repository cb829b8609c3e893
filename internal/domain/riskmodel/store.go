// Package riskmodel owns the lifecycle of the trained readmission classifier.
package riskmodel

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// ErrModelUnavailable means the artifact is missing or corrupt. Scoring is
// disabled for the process; the rest of the service keeps running.
var ErrModelUnavailable = errors.New("model unavailable")

// Store loads the artifact at a fixed path once and shares the result,
// success or failure, with every caller for the lifetime of the Store.
type Store struct {
	path   string
	logger zerolog.Logger

	once  sync.Once
	model Model
	err   error
}

func NewStore(path string, logger zerolog.Logger) *Store {
	return &Store{path: path, logger: logger.With().Str("component", "riskmodel").Logger()}
}

// Load deserializes the artifact on first call.
func (s *Store) Load() (Model, error) {
	s.once.Do(func() {
		start := time.Now()
		s.model, s.err = loadArtifact(s.path)
		if s.err != nil {
			s.logger.Warn().Err(s.err).Str("path", s.path).Msg("readmission model not loaded; prediction disabled")
			return
		}
		info := s.model.Info()
		s.logger.Info().
			Str("path", s.path).
			Str("name", info.Name).
			Str("version", info.Version).
			Dur("took", time.Since(start)).
			Msg("readmission model loaded")
	})
	return s.model, s.err
}

// Score returns the positive-class probability for features.
func (s *Store) Score(features [NumFeatures]float64) (float64, error) {
	m, err := s.Load()
	if err != nil {
		return 0, err
	}
	return m.PredictProba(features)
}

// Info returns the loaded model's metadata.
func (s *Store) Info() (Info, error) {
	m, err := s.Load()
	if err != nil {
		return Info{}, err
	}
	return m.Info(), nil
}

func loadArtifact(path string) (Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrModelUnavailable, path, err)
	}

	a, err := decodeArtifact(path, data)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrModelUnavailable, path, err)
	}
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrModelUnavailable, path, err)
	}
	return newLogisticModel(a, path, time.Now().UTC()), nil
}

func decodeArtifact(path string, data []byte) (*Artifact, error) {
	var a Artifact
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&a); err != nil {
			return nil, err
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&a); err != nil {
			return nil, err
		}
	}
	return &a, nil
}
