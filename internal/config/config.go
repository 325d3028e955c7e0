// Package config implements the process-wide, read-mostly config space:
// a keyed string store over a GENERAL namespace and per-contract scoped
// sections, consumed by the grammar/pipeline/dataset/board packages.
//
// It follows the "process-wide singleton with explicit init/finit" pattern:
// access is through accessor functions that assert initialization rather than
// through package-level mutable state constructed implicitly on first use.
package config

import (
	"fmt"
	"sync"

	"github.com/cuwacunu/tsi/internal/errs"
)

// Recognized GENERAL keys. Enumerated at the boundary so UpdateConfig can
// validate eagerly instead of failing lazily on first read.
const (
	KeyDtype     = "dtype"
	KeyDevice    = "device"
	KeyTorchSeed = "torch_seed"

	KeyArtifactRoot = "artifact_root"

	KeyObservationSourcesGrammar  = "observation_sources_grammar"
	KeyObservationSourcesDSL      = "observation_sources_dsl"
	KeyObservationChannelsGrammar = "observation_channels_grammar"
	KeyObservationChannelsDSL     = "observation_channels_dsl"
	KeyBoardGrammar               = "board_grammar"
)

var recognizedGeneralKeys = map[string]bool{
	KeyDtype:                      true,
	KeyDevice:                     true,
	KeyTorchSeed:                  true,
	KeyArtifactRoot:               true,
	KeyObservationSourcesGrammar:  true,
	KeyObservationSourcesDSL:      true,
	KeyObservationChannelsGrammar: true,
	KeyObservationChannelsDSL:     true,
	KeyBoardGrammar:               true,
}

// Space is a keyed text store: a GENERAL section plus one section per
// contract id. It is read-mostly — mutated only through UpdateConfig, which
// callers are expected to serialize externally.
type Space struct {
	mu          sync.RWMutex
	initialized bool
	general     map[string]string
	contracts   map[string]map[string]string
}

// New returns an uninitialized config space. Call Init before use.
func New() *Space {
	return &Space{
		general:   make(map[string]string),
		contracts: make(map[string]map[string]string),
	}
}

// Init seeds the space with initial general values and marks it ready for
// accessor use. Calling Init twice is a no-op beyond merging the new values.
func (s *Space) Init(initial map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range initial {
		if !recognizedGeneralKeys[k] {
			return fmt.Errorf("config: unrecognized general key %q: %w", k, errs.ErrReference)
		}
		s.general[k] = v
	}
	s.initialized = true
	return nil
}

// Finit clears all state, requiring a fresh Init before further use.
func (s *Space) Finit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.general = make(map[string]string)
	s.contracts = make(map[string]map[string]string)
	s.initialized = false
}

func (s *Space) assertInit() error {
	if !s.initialized {
		return fmt.Errorf("config: space not initialized: %w", errs.ErrInternal)
	}
	return nil
}

// Get reads a GENERAL key. ok is false when the key was never set.
func (s *Space) Get(key string) (value string, ok bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.assertInit(); err != nil {
		return "", false, err
	}
	v, ok := s.general[key]
	return v, ok, nil
}

// GetContract reads a contract-scoped key. Contract ids are not enumerated —
// they are as dynamic as the board DSL's contract table — so any key is
// accepted for a given contract id.
func (s *Space) GetContract(contractID, key string) (value string, ok bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.assertInit(); err != nil {
		return "", false, err
	}
	section, ok := s.contracts[contractID]
	if !ok {
		return "", false, nil
	}
	v, ok := section[key]
	return v, ok, nil
}

// UpdateConfig applies general and per-contract writes atomically, validating
// every general key against the enumerated set before any write lands.
func (s *Space) UpdateConfig(general map[string]string, contractSections map[string]map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.assertInit(); err != nil {
		return err
	}
	for k := range general {
		if !recognizedGeneralKeys[k] {
			return fmt.Errorf("config: unrecognized general key %q: %w", k, errs.ErrReference)
		}
	}
	for k, v := range general {
		s.general[k] = v
	}
	for contractID, section := range contractSections {
		dst, ok := s.contracts[contractID]
		if !ok {
			dst = make(map[string]string)
			s.contracts[contractID] = dst
		}
		for k, v := range section {
			dst[k] = v
		}
	}
	return nil
}

// MustGet reads a GENERAL key, returning an io-missing error if absent.
func (s *Space) MustGet(key string) (string, error) {
	v, ok, err := s.Get(key)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("config: key %q not set: %w", key, errs.ErrIOMissing)
	}
	return v, nil
}
