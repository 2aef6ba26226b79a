package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	. "github.com/asukul/thatbrowser/internal/logging"
	. "github.com/asukul/thatbrowser/internal/metrics"
	"github.com/asukul/thatbrowser/internal/paths"
)

// Chrome refuses to start if these survive a crash.
var staleLockFiles = []string{"SingletonLock", "SingletonCookie", "SingletonSocket"}

func cleanupStaleLocks(profileDir string) {
	for _, name := range staleLockFiles {
		lockPath := filepath.Join(profileDir, name)
		if _, err := os.Lstat(lockPath); err != nil {
			continue
		}
		if err := os.Remove(lockPath); err != nil {
			L_warn("browser: failed to remove stale lock file", "file", lockPath, "error", err)
		} else {
			L_info("browser: removed stale lock file", "file", lockPath)
		}
	}
}

// Manager owns one browser, launched lazily or attached over CDP.
type Manager struct {
	config     BrowserConfig
	downloader *Downloader

	mu       sync.Mutex
	browser  *rod.Browser
	external bool
}

// NewManager creates a manager. Nothing is launched until a page is
// requested.
func NewManager(cfg BrowserConfig) (*Manager, error) {
	binDir, err := paths.DataPath(filepath.Join("browser", "bin"))
	if err != nil {
		return nil, err
	}
	if cfg.Bin, err = paths.ExpandTilde(cfg.Bin); err != nil {
		return nil, err
	}
	m := &Manager{
		config:     cfg,
		downloader: NewDownloader(binDir, cfg.Bin, cfg.AutoDownload),
	}
	L_debug("browser: manager initialized", "binDir", binDir, "headless", cfg.Headless, "stealth", cfg.Stealth, "cdp", cfg.ChromeCDP)
	return m, nil
}

// Config returns the manager's configuration.
func (m *Manager) Config() BrowserConfig {
	return m.config
}

// Browser returns the live browser, launching or connecting on first use
// and again if the previous one has gone away.
func (m *Manager) Browser() (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browser != nil {
		if alive(m.browser) {
			return m.browser, nil
		}
		L_debug("browser: existing browser disconnected, recreating")
		m.browser = nil
	}

	var (
		b   *rod.Browser
		err error
	)
	if m.config.ChromeCDP != "" {
		b, err = m.connect(m.config.ChromeCDP)
		m.external = true
	} else {
		b, err = m.launch()
		m.external = false
	}
	if err != nil {
		return nil, err
	}
	b.DefaultDevice(m.config.ResolveDevice())
	m.browser = b
	return b, nil
}

func alive(b *rod.Browser) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	_, err := proto.BrowserGetVersion{}.Call(b)
	return err == nil
}

func (m *Manager) launch() (*rod.Browser, error) {
	binPath, err := m.downloader.EnsureBrowser()
	if err != nil {
		return nil, err
	}
	profileDir, err := paths.ProfileDir(m.config.Profile)
	if err != nil {
		return nil, err
	}
	if err := paths.EnsureDir(profileDir); err != nil {
		return nil, fmt.Errorf("failed to create profile directory: %w", err)
	}
	cleanupStaleLocks(profileDir)

	L_debug("browser: launching", "bin", binPath, "profileDir", profileDir, "headless", m.config.Headless)

	l := launcher.New().
		Bin(binPath).
		UserDataDir(profileDir).
		Headless(m.config.Headless).
		Set("disable-dev-shm-usage")
	if !m.config.Headless {
		l = l.Set("window-size", "1440,900")
	}
	if m.config.Stealth {
		l = l.Set("disable-blink-features", "AutomationControlled")
	}
	if m.config.NoSandbox {
		l = l.Set("no-sandbox")
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}
	L_info("browser: launched", "profile", m.config.Profile, "controlURL", controlURL)
	return b, nil
}

func (m *Manager) connect(endpoint string) (*rod.Browser, error) {
	L_info("browser: connecting over CDP", "endpoint", endpoint)
	controlURL := endpoint
	if u, err := launcher.ResolveURL(endpoint); err == nil {
		controlURL = u
	}
	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to Chrome at %s (is it running with --remote-debugging-port?): %w", endpoint, err)
	}
	return b, nil
}

// NewPage opens a tab, navigating to startURL when it is non-empty.
func (m *Manager) NewPage(ctx context.Context, startURL string) (*RodPage, error) {
	defer MetricTimer("browser", "new_page")()

	b, err := m.Browser()
	if err != nil {
		MetricFailWithReason("browser", "new_page", "launch")
		return nil, err
	}
	var page *rod.Page
	if m.config.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	p := newRodPage(page, m.config.Policy(), m.config.ResolveTimeout())
	if startURL != "" {
		if err := p.Navigate(ctx, startURL); err != nil {
			_ = page.Close()
			return nil, err
		}
	}
	return p, nil
}

// Close shuts down a launched browser. A browser reached over CDP belongs
// to the user and is only disconnected.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.browser == nil {
		return
	}
	if m.external {
		L_debug("browser: leaving external browser running")
	} else if err := m.browser.Close(); err != nil {
		L_debug("browser: close failed", "error", err)
	} else {
		L_debug("browser: closed")
	}
	m.browser = nil
}
