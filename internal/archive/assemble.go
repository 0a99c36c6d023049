package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cochaviz/tcbuild/internal/logging"
)

// DescriptorName is the name the descriptor always has inside a plugin archive.
const DescriptorName = "teamcity-plugin.xml"

const (
	serverDir = "server"
	agentDir  = "agent"
)

// entryTime is stamped on every entry so identical inputs give identical archives.
var entryTime = time.Date(1980, time.February, 1, 0, 0, 0, 0, time.UTC)

// FileMapping copies From (a file or directory) into the archive under Into.
type FileMapping struct {
	From string `yaml:"from"`
	Into string `yaml:"into"`
}

// Spec describes one plugin archive.
type Spec struct {
	Name        string
	Destination string

	Server []string
	Agent  []string
	// Descriptor is empty when no descriptor source is configured.
	Descriptor string
	Files      []FileMapping
}

// Result reports what Assemble produced.
type Result struct {
	Path    string
	Entries []string
	Skipped bool
}

// Assembler writes plugin archives.
type Assembler struct {
	Logger *slog.Logger
}

func (a *Assembler) logger() *slog.Logger {
	if a != nil && a.Logger != nil {
		return a.Logger
	}
	return logging.Ensure(nil)
}

// ArchiveFileName returns name with a ".zip" extension.
func ArchiveFileName(name string) string {
	if strings.HasSuffix(name, ".zip") {
		return name
	}
	return name + ".zip"
}

// Assemble writes the archive described by spec. When no descriptor is configured
// there is nothing to package: no file is written and Result.Skipped is set.
func (a *Assembler) Assemble(spec Spec) (Result, error) {
	logger := a.logger()

	if spec.Descriptor == "" {
		logger.Info("no plugin descriptor configured, nothing to package")
		return Result{Skipped: true}, nil
	}
	if strings.TrimSpace(spec.Name) == "" {
		return Result{}, errors.New("archive name is required")
	}
	if spec.Destination == "" {
		return Result{}, errors.New("archive destination is required")
	}

	entries := map[string]string{}
	add := func(entry, source string) error {
		if existing, ok := entries[entry]; ok && existing != source {
			return fmt.Errorf("duplicate archive entry %s from %s and %s", entry, existing, source)
		}
		entries[entry] = source
		return nil
	}

	for _, src := range spec.Server {
		if err := collect(src, serverDir, add); err != nil {
			return Result{}, err
		}
	}
	for _, src := range spec.Agent {
		if err := collect(src, agentDir, add); err != nil {
			return Result{}, err
		}
	}
	for _, mapping := range spec.Files {
		if err := collect(mapping.From, cleanEntryDir(mapping.Into), add); err != nil {
			return Result{}, err
		}
	}
	if _, err := os.Stat(spec.Descriptor); err != nil {
		return Result{}, fmt.Errorf("plugin descriptor: %w", err)
	}
	if err := add(DescriptorName, spec.Descriptor); err != nil {
		return Result{}, err
	}

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	if err := os.MkdirAll(spec.Destination, 0o755); err != nil {
		return Result{}, fmt.Errorf("create archive directory: %w", err)
	}
	archivePath := filepath.Join(spec.Destination, ArchiveFileName(spec.Name))

	if err := writeZip(archivePath, names, entries); err != nil {
		return Result{}, err
	}

	logger.Info("plugin archive assembled", "path", archivePath, "entries", len(names))
	return Result{Path: archivePath, Entries: names}, nil
}

func cleanEntryDir(dir string) string {
	dir = strings.Trim(filepath.ToSlash(dir), "/")
	if dir == "" || dir == "." {
		return ""
	}
	return path.Clean(dir)
}

// collect adds src under dir. Directories are walked and keep their relative layout.
func collect(src, dir string, add func(entry, source string) error) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("archive input: %w", err)
	}

	if !info.IsDir() {
		return add(path.Join(dir, filepath.Base(src)), src)
	}

	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		return add(path.Join(dir, filepath.ToSlash(rel)), p)
	})
}

func writeZip(archivePath string, names []string, entries map[string]string) (err error) {
	out, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer func() {
		if cerr := out.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close archive: %w", cerr)
		}
	}()

	zw := zip.NewWriter(out)
	for _, name := range names {
		if err := copyEntry(zw, name, entries[name]); err != nil {
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}
	return nil
}

func copyEntry(zw *zip.Writer, name, source string) error {
	src, err := os.Open(source)
	if err != nil {
		return fmt.Errorf("open %s: %w", source, err)
	}
	defer src.Close()

	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: entryTime,
	})
	if err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}
	if _, err := io.Copy(w, src); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}
