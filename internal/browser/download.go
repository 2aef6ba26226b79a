package browser

import (
	"fmt"
	"os"
	"sync"

	"github.com/go-rod/rod/lib/launcher"

	. "github.com/asukul/thatbrowser/internal/logging"
)

// Downloader locates a Chromium binary: the configured path, then a system
// install, then a managed download under binDir.
type Downloader struct {
	binDir       string
	configured   string
	autoDownload bool

	mu      sync.Mutex
	binPath string
}

// NewDownloader creates a downloader.
func NewDownloader(binDir, configured string, autoDownload bool) *Downloader {
	return &Downloader{binDir: binDir, configured: configured, autoDownload: autoDownload}
}

// EnsureBrowser returns a usable binary path, downloading if allowed.
// Safe to call concurrently.
func (d *Downloader) EnsureBrowser() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.binPath != "" {
		if _, err := os.Stat(d.binPath); err == nil {
			return d.binPath, nil
		}
		d.binPath = ""
	}

	if d.configured != "" {
		if _, err := os.Stat(d.configured); err != nil {
			return "", fmt.Errorf("configured browser binary %s: %w", d.configured, err)
		}
		d.binPath = d.configured
		return d.binPath, nil
	}

	if path, ok := launcher.LookPath(); ok {
		L_debug("browser: using system browser", "path", path)
		d.binPath = path
		return path, nil
	}

	if !d.autoDownload {
		return "", fmt.Errorf("no Chromium found and autoDownload is disabled")
	}
	if err := os.MkdirAll(d.binDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create browser bin directory: %w", err)
	}

	L_info("browser: downloading Chromium", "dir", d.binDir)
	b := launcher.NewBrowser()
	b.RootDir = d.binDir
	path, err := b.Get()
	if err != nil {
		return "", fmt.Errorf("failed to download browser: %w", err)
	}
	d.binPath = path
	L_info("browser: ready", "path", path)
	return path, nil
}
