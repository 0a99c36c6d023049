package artifacts

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Describe records the file at path as an artifact of the given kind.
func Describe(path string, kind ArtifactKind, metadata map[string]any) (Artifact, error) {
	if path == "" {
		return Artifact{}, errors.New("artifact path is required")
	}

	f, err := os.Open(path)
	if err != nil {
		return Artifact{}, err
	}
	defer f.Close()

	hash := sha256.New()
	size, err := io.Copy(hash, f)
	if err != nil {
		return Artifact{}, fmt.Errorf("hash artifact %s: %w", path, err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	return Artifact{
		ID:          uuid.NewString(),
		Kind:        kind,
		Path:        abs,
		SHA256:      hex.EncodeToString(hash.Sum(nil)),
		Size:        size,
		ContentType: detectContentType(path),
		Metadata:    cloneMetadata(metadata),
	}, nil
}

func detectContentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zip", ".jar":
		return "application/zip"
	case ".xml":
		return "application/xml"
	case ".yaml", ".yml":
		return "application/yaml"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

func cloneMetadata(metadata map[string]any) map[string]any {
	if metadata == nil {
		return nil
	}
	cloned := make(map[string]any, len(metadata))
	for k, v := range metadata {
		cloned[k] = v
	}
	return cloned
}
