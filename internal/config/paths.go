package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Paths contains every file the daemon touches, resolved against one base
// directory. Absolute configured paths are kept as they are.
type Paths struct {
	BaseDir string

	LicenseFile   string
	LicenseBackup string

	StoreFile        string
	AESKeyFile       string
	RSAPublicKeyFile string
	LogFile          string
}

// ExecutableDir returns the directory of the running binary with symlinks
// resolved.
func ExecutableDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to get executable path: %w", err)
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return "", fmt.Errorf("failed to resolve executable symlinks: %w", err)
	}
	return filepath.Dir(exe), nil
}

// GetPaths resolves the configured paths against baseDir. An empty
// baseDir means the executable directory.
func (c *Config) GetPaths(baseDir string) (*Paths, error) {
	if baseDir == "" {
		dir, err := ExecutableDir()
		if err != nil {
			return nil, err
		}
		baseDir = dir
	}

	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(baseDir, p)
	}

	paths := &Paths{
		BaseDir:          baseDir,
		LicenseFile:      resolve(c.License.File),
		AESKeyFile:       resolve(c.Keys.AESKeyFile),
		RSAPublicKeyFile: resolve(c.Keys.RSAPublicKeyFile),
	}
	paths.LicenseBackup = filepath.Join(filepath.Dir(paths.LicenseFile), LicenseFileBackup)
	if c.Persistence.Backend == "file" {
		paths.StoreFile = resolve(c.Persistence.Path)
	}
	if c.Logging.Output != "console" {
		paths.LogFile = resolve(c.Logging.FilePath)
	}
	return paths, nil
}

// EnsureDirectories creates the parent directories of writable files
func (p *Paths) EnsureDirectories() error {
	for _, file := range []string{p.LicenseFile, p.StoreFile, p.LogFile} {
		if file == "" {
			continue
		}
		dir := filepath.Dir(file)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// FileExists checks if a file exists
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

// LogPathResolution logs detailed path resolution information for debugging
func (p *Paths) LogPathResolution(logger *slog.Logger) {
	if logger == nil {
		return
	}
	logger.Info("Path resolution summary",
		slog.String("base_dir", p.BaseDir),
		slog.Group("license",
			slog.String("file", p.LicenseFile),
			slog.Bool("exists", FileExists(p.LicenseFile)),
		),
		slog.Group("keys",
			slog.String("aes_key_file", p.AESKeyFile),
			slog.String("rsa_public_key_file", p.RSAPublicKeyFile),
		),
		slog.String("store_file", p.StoreFile),
		slog.String("log_file", p.LogFile),
	)
}

// ValidateRequiredFiles checks that the configured key files exist. The
// license file is optional at startup.
func (p *Paths) ValidateRequiredFiles() error {
	requiredFiles := map[string]string{
		"AES key":        p.AESKeyFile,
		"RSA public key": p.RSAPublicKeyFile,
	}

	var missingFiles []string
	for name, path := range requiredFiles {
		if path != "" && !FileExists(path) {
			missingFiles = append(missingFiles, fmt.Sprintf("%s (%s)", name, path))
		}
	}

	if len(missingFiles) > 0 {
		return fmt.Errorf("required files missing: %s", strings.Join(missingFiles, ", "))
	}
	return nil
}
