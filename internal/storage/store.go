// Package storage keeps exported controller snapshots on disk so a
// calibrated controller can be redeployed later.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/san-kum/hybridctl/internal/dynamo"
	"github.com/san-kum/hybridctl/internal/physics"
)

const (
	metadataFile = "metadata.json"
	weightsFile  = "weights.json"
)

// ErrNotFound is returned for an unknown snapshot ID.
var ErrNotFound = errors.New("storage: snapshot not found")

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

// Metadata describes a stored snapshot. The weights themselves are kept
// alongside, byte for byte as exported.
type Metadata struct {
	ID         string             `json:"id"`
	Label      string             `json:"label"`
	Timestamp  time.Time          `json:"timestamp"`
	Controller string             `json:"controller"`
	Seed       int64              `json:"seed"`
	Ticks      int                `json:"ticks"`
	Params     physics.Params     `json:"params"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
	Size       int                `json:"size"`
}

// Save writes blob under a fresh UUID and returns the completed metadata.
func (s *Store) Save(meta Metadata, blob []byte) (Metadata, error) {
	if !json.Valid(blob) {
		return Metadata{}, fmt.Errorf("refusing to store non-JSON blob: %w", dynamo.ErrSnapshot)
	}

	meta.ID = uuid.NewString()
	if meta.Timestamp.IsZero() {
		meta.Timestamp = time.Now().UTC()
	}
	meta.Size = len(blob)

	dir := filepath.Join(s.baseDir, meta.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return Metadata{}, err
	}

	if err := writeSnapshot(dir, meta, blob); err != nil {
		os.RemoveAll(dir)
		return Metadata{}, err
	}
	return meta, nil
}

func writeSnapshot(dir string, meta Metadata, blob []byte) error {
	if err := os.WriteFile(filepath.Join(dir, weightsFile), blob, 0644); err != nil {
		return err
	}

	metaFile, err := os.Create(filepath.Join(dir, metadataFile))
	if err != nil {
		return err
	}

	enc := json.NewEncoder(metaFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
		metaFile.Close()
		return err
	}
	return metaFile.Close()
}

func (s *Store) dir(id string) (string, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return "", fmt.Errorf("snapshot id %q: %w", id, ErrNotFound)
	}
	return filepath.Join(s.baseDir, parsed.String()), nil
}

// Load returns the metadata and the weight blob of a snapshot.
func (s *Store) Load(id string) (*Metadata, []byte, error) {
	dir, err := s.dir(id)
	if err != nil {
		return nil, nil, err
	}

	meta, err := readMetadata(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("snapshot %s: %w", id, ErrNotFound)
		}
		return nil, nil, err
	}

	blob, err := os.ReadFile(filepath.Join(dir, weightsFile))
	if err != nil {
		return nil, nil, err
	}
	return meta, blob, nil
}

func readMetadata(dir string) (*Metadata, error) {
	data, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		return nil, err
	}

	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// List returns every readable snapshot, newest first. Directories that are
// not snapshots are skipped.
func (s *Store) List() ([]Metadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Metadata{}, nil
		}
		return nil, err
	}

	snaps := make([]Metadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := uuid.Parse(entry.Name()); err != nil {
			continue
		}

		meta, err := readMetadata(filepath.Join(s.baseDir, entry.Name()))
		if err != nil {
			continue
		}
		snaps = append(snaps, *meta)
	}

	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].Timestamp.After(snaps[j].Timestamp)
	})
	return snaps, nil
}

// Latest returns the most recent snapshot's ID.
func (s *Store) Latest() (string, error) {
	snaps, err := s.List()
	if err != nil {
		return "", err
	}
	if len(snaps) == 0 {
		return "", ErrNotFound
	}
	return snaps[0].ID, nil
}

func (s *Store) Delete(id string) error {
	dir, err := s.dir(id)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("snapshot %s: %w", id, ErrNotFound)
		}
		return err
	}
	return os.RemoveAll(dir)
}
