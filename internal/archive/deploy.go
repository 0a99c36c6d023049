package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Deploy copies plugin archives into a TeamCity server's plugins directory and
// returns the paths written.
func Deploy(archives []string, pluginsDir string) ([]string, error) {
	if pluginsDir == "" {
		return nil, errors.New("plugins directory is required")
	}
	if err := os.MkdirAll(pluginsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create plugins directory: %w", err)
	}

	deployed := make([]string, 0, len(archives))
	for _, archive := range archives {
		target := filepath.Join(pluginsDir, filepath.Base(archive))
		if err := copyFile(archive, target); err != nil {
			return deployed, fmt.Errorf("deploy %s: %w", archive, err)
		}
		deployed = append(deployed, target)
	}
	return deployed, nil
}

// Undeploy removes previously deployed archives from pluginsDir. Missing files
// are ignored.
func Undeploy(archives []string, pluginsDir string) error {
	var errs error
	for _, archive := range archives {
		target := filepath.Join(pluginsDir, filepath.Base(archive))
		if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = errors.Join(errs, err)
		}
	}
	return errs
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
