package artifacts

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ManifestStore keeps the history of builds and the artifacts they produced in a
// JSON document on disk.
type ManifestStore struct {
	Path string
	// Limit caps the number of records kept; zero keeps everything.
	Limit int
}

type manifest struct {
	Builds []BuildRecord `json:"builds"`
}

// Append adds record to the manifest, dropping the oldest records above Limit.
func (s *ManifestStore) Append(record BuildRecord) error {
	if s == nil || s.Path == "" {
		return errors.New("manifest path is not configured")
	}

	m, err := s.load()
	if err != nil {
		return err
	}
	m.Builds = append(m.Builds, record)
	if s.Limit > 0 && len(m.Builds) > s.Limit {
		m.Builds = m.Builds[len(m.Builds)-s.Limit:]
	}

	payload, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(s.Path, payload, 0o644)
}

// Records returns every stored record, oldest first.
func (s *ManifestStore) Records() ([]BuildRecord, error) {
	m, err := s.load()
	if err != nil {
		return nil, err
	}
	return m.Builds, nil
}

// Latest returns the newest record of an artifact kind, or nil when none exists.
func (s *ManifestStore) Latest(kind ArtifactKind) (*Artifact, error) {
	records, err := s.Records()
	if err != nil {
		return nil, err
	}
	for i := len(records) - 1; i >= 0; i-- {
		for j := len(records[i].Artifacts) - 1; j >= 0; j-- {
			if records[i].Artifacts[j].Kind == kind {
				a := records[i].Artifacts[j]
				return &a, nil
			}
		}
	}
	return nil, nil
}

func (s *ManifestStore) load() (manifest, error) {
	var m manifest
	payload, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return m, nil
		}
		return m, err
	}
	if err := json.Unmarshal(payload, &m); err != nil {
		return m, fmt.Errorf("decode manifest %s: %w", s.Path, err)
	}
	return m, nil
}
