// Package settings is the user-facing system configuration store. Values are
// read from disk on every access so that edits made by screenrec-ctl or by
// hand are picked up by the next recording.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"gopkg.in/yaml.v3"
)

// Keys accepted by Get and Set.
const (
	KeyOutputDimensions = "output_dimensions"
	KeyBitRate          = "bitrate"
	KeyFrameRate        = "frame_rate"
	KeyRecordAudio      = "record_audio"
	KeyShowTouches      = "show_touches"
)

// ErrUnknownKey is returned for keys outside the fixed set.
var ErrUnknownKey = errors.New("unknown settings key")

// Snapshot is an immutable view of the settings at one point in time.
// Zero numeric values and an empty OutputDimensions mean "unset".
type Snapshot struct {
	OutputDimensions string `yaml:"output_dimensions,omitempty"`
	BitRate          int    `yaml:"bitrate,omitempty"`
	FrameRate        int    `yaml:"frame_rate,omitempty"`
	RecordAudio      bool   `yaml:"record_audio"`
	ShowTouches      bool   `yaml:"show_touches"`
}

// Store persists settings as YAML.
type Store struct {
	path string
	mu   sync.Mutex
}

// DefaultPath is ~/.config/screenrec/settings.yaml.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(dir, "screenrec", "settings.yaml")
}

// NewStore returns a store backed by path. The file need not exist.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file.
func (s *Store) Path() string { return s.path }

// Snapshot reads the current settings. A missing file yields zero values.
func (s *Store) Snapshot() (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Update applies fn to the current settings and writes the result.
func (s *Store) Update(fn func(*Snapshot)) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.load()
	if err != nil {
		return Snapshot{}, err
	}
	fn(&snap)
	if err := s.save(snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// ToggleShowTouches flips show_touches and returns the new value.
func (s *Store) ToggleShowTouches() (bool, error) {
	snap, err := s.Update(func(v *Snapshot) { v.ShowTouches = !v.ShowTouches })
	if err != nil {
		return false, err
	}
	return snap.ShowTouches, nil
}

// Get returns one key rendered as a string.
func (s *Store) Get(key string) (string, error) {
	snap, err := s.Snapshot()
	if err != nil {
		return "", err
	}
	values := snap.Map()
	v, ok := values[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return v, nil
}

// Set parses value for key and persists it.
func (s *Store) Set(key, value string) error {
	var apply func(*Snapshot)
	switch key {
	case KeyOutputDimensions:
		apply = func(v *Snapshot) { v.OutputDimensions = value }
	case KeyBitRate, KeyFrameRate:
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("%s: expected a non-negative integer, got %q", key, value)
		}
		if key == KeyBitRate {
			apply = func(v *Snapshot) { v.BitRate = n }
		} else {
			apply = func(v *Snapshot) { v.FrameRate = n }
		}
	case KeyRecordAudio, KeyShowTouches:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s: expected a boolean, got %q", key, value)
		}
		if key == KeyRecordAudio {
			apply = func(v *Snapshot) { v.RecordAudio = b }
		} else {
			apply = func(v *Snapshot) { v.ShowTouches = b }
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	_, err := s.Update(apply)
	return err
}

// Map renders every key as a string.
func (v Snapshot) Map() map[string]string {
	return map[string]string{
		KeyOutputDimensions: v.OutputDimensions,
		KeyBitRate:          strconv.Itoa(v.BitRate),
		KeyFrameRate:        strconv.Itoa(v.FrameRate),
		KeyRecordAudio:      strconv.FormatBool(v.RecordAudio),
		KeyShowTouches:      strconv.FormatBool(v.ShowTouches),
	}
}

// Keys lists the accepted keys in sorted order.
func Keys() []string {
	keys := make([]string, 0, 5)
	for k := range (Snapshot{}).Map() {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *Store) load() (Snapshot, error) {
	var snap Snapshot
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return snap, nil
	}
	if err != nil {
		return snap, fmt.Errorf("read settings: %w", err)
	}
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("parse settings %s: %w", s.path, err)
	}
	return snap, nil
}

// save writes to a temp file and renames it over the target.
func (s *Store) save(snap Snapshot) error {
	data, err := yaml.Marshal(snap)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".settings-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}
