package marketplace

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/cochaviz/tcbuild/internal/command"
	"github.com/cochaviz/tcbuild/internal/logging"
)

// Signer runs the zip signing tool.
type Signer struct {
	Tool   Tool
	Runner command.Runner
	// WorkDir holds the credential files while the tool runs. Defaults to the
	// system temp directory.
	WorkDir string
	Logger  *slog.Logger
}

func (s *Signer) logger() *slog.Logger {
	return logging.Ensure(s.Logger)
}

// SignedName returns the file name of the signed copy of archive.
func SignedName(archive string) string {
	base := strings.TrimSuffix(filepath.Base(archive), ".zip")
	return base + "-signed.zip"
}

// Apply signs archive when signing is a Sign and returns the archive to use
// downstream. With NoSigning the archive is returned unchanged.
func (s *Signer) Apply(ctx context.Context, signing Signing, archive string) (string, bool, error) {
	switch cfg := signing.(type) {
	case nil, NoSigning:
		s.logger().Info("signing not configured, skipping")
		return archive, false, nil
	case Sign:
		signed, err := s.Sign(ctx, cfg, archive)
		return signed, err == nil, err
	default:
		return "", false, fmt.Errorf("unknown signing configuration %T", signing)
	}
}

// Sign writes a signed copy of archive next to it.
func (s *Signer) Sign(ctx context.Context, cfg Sign, archive string) (string, error) {
	switch {
	case blank(cfg.CertificateChain):
		return "", missing("certificate chain")
	case blank(cfg.PrivateKey):
		return "", missing("private key")
	case blank(cfg.Password):
		return "", missing("password")
	}
	if _, err := os.Stat(archive); err != nil {
		return "", fmt.Errorf("archive to sign: %w", err)
	}

	workDir, err := os.MkdirTemp(s.WorkDir, "tcbuild-sign-")
	if err != nil {
		return "", fmt.Errorf("create signing work directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	chainFile := filepath.Join(workDir, "chain.crt")
	keyFile := filepath.Join(workDir, "private.pem")
	if err := os.WriteFile(chainFile, []byte(cfg.CertificateChain), 0o600); err != nil {
		return "", fmt.Errorf("write certificate chain: %w", err)
	}
	if err := os.WriteFile(keyFile, []byte(cfg.PrivateKey), 0o600); err != nil {
		return "", fmt.Errorf("write private key: %w", err)
	}

	signed := filepath.Join(filepath.Dir(archive), SignedName(archive))
	cmd, err := s.Tool.command(s.signerMain(),
		"sign",
		"-in", archive,
		"-out", signed,
		"-cert-file", chainFile,
		"-key-file", keyFile,
		"-key-pass", cfg.Password,
	)
	if err != nil {
		return "", err
	}
	cmd = cmd.WithSecrets(cfg.Password)

	logger := s.logger()
	logger.Info("signing plugin archive", "archive", archive, "command", cmd.Redacted())

	result, err := s.Runner.Run(ctx, cmd)
	if err != nil {
		return "", fmt.Errorf("sign %s: %w", filepath.Base(archive), err)
	}
	if out := strings.TrimSpace(result.Output); out != "" {
		logger.Debug("signer output", "output", out)
	}
	logger.Info("plugin archive signed", "path", signed)
	return signed, nil
}

func (s *Signer) signerMain() string {
	if s.Tool.SignerMain == "" {
		return DefaultSignerMain
	}
	return s.Tool.SignerMain
}
