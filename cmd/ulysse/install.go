package main

import (
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
)

// ErrAlreadyInstalled is returned by installConfig when the target
// configuration directory already exists.
var ErrAlreadyInstalled = errors.New("configuration directory already exists")

var installTemplate = template.Must(template.New("install").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Ulysse installation</title></head>
<body>
<h1>Welcome to Ulysse installation</h1>
<p>Copy the "{{.Example}}" directory to "{{.Config}}" to start using the framework,
or run <code>ulysse -init</code>.</p>
</body>
</html>
`))

// installHandler answers every request with the installation page while the
// site is not configured.
func installHandler(config *ServerConfig, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusServiceUnavailable)
		err := installTemplate.Execute(w, map[string]string{
			"Example": filepath.Base(config.ExampleConfigDir),
			"Config":  filepath.Base(config.ConfigDir),
		})
		if err != nil {
			logger.Error("Failed to render installation page", "error", err)
		}
	})
}

// configInstalled reports whether the site configuration directory exists.
func configInstalled(config *ServerConfig) bool {
	info, err := os.Stat(config.ConfigDir)
	return err == nil && info.IsDir()
}

// installConfig copies the example configuration tree into the configuration
// directory. Every file is written atomically.
func installConfig(config *ServerConfig, logger *slog.Logger) error {
	if _, err := os.Stat(config.ConfigDir); err == nil {
		return fmt.Errorf("%w: %s", ErrAlreadyInstalled, config.ConfigDir)
	}

	src := config.ExampleConfigDir
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(config.ConfigDir, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer func(f *os.File) {
			_ = f.Close()
		}(f)
		if err = atomic.WriteFile(target, f); err != nil {
			return fmt.Errorf("failed to write %s: %w", target, err)
		}
		logger.Debug("Installed configuration file", "file", target)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to install %s into %s: %w", src, config.ConfigDir, err)
	}
	logger.Info("Configuration installed", "from", src, "to", config.ConfigDir)
	return nil
}
