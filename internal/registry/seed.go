package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"wedding-rsvp/internal/models"
)

// SeedFile is a Source backed by the JSON guest list written by the token
// generator. Access updates are kept in memory and written back on Touch.
type SeedFile struct {
	mu     sync.RWMutex
	path   string
	guests []models.Guest
}

// OpenSeedFile loads the guest list at path.
func OpenSeedFile(path string) (*SeedFile, error) {
	guests, err := LoadSeedFile(path)
	if err != nil {
		return nil, err
	}
	return &SeedFile{path: path, guests: guests}, nil
}

// ListGuests implements Source.
func (s *SeedFile) ListGuests(context.Context) ([]models.Guest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	guests := make([]models.Guest, len(s.guests))
	copy(guests, s.guests)
	return guests, nil
}

// TouchGuest implements Source.
func (s *SeedFile) TouchGuest(_ context.Context, token string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.guests {
		if s.guests[i].Token == token {
			t := at
			s.guests[i].HasUsedToken = true
			s.guests[i].LastAccessed = &t
			return WriteSeedFile(s.path, s.guests)
		}
	}
	return fmt.Errorf("guest not found")
}

// LoadSeedFile reads a JSON guest list.
func LoadSeedFile(path string) ([]models.Guest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read guest list: %w", err)
	}
	if len(data) == 0 {
		return []models.Guest{}, nil
	}
	var guests []models.Guest
	if err := json.Unmarshal(data, &guests); err != nil {
		return nil, fmt.Errorf("failed to unmarshal guest list: %w", err)
	}
	return guests, nil
}

// WriteSeedFile writes a JSON guest list, creating the directory.
func WriteSeedFile(path string, guests []models.Guest) error {
	data, err := json.MarshalIndent(guests, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal guest list: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
