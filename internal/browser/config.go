package browser

import (
	"strings"
	"time"

	"github.com/go-rod/rod/lib/devices"
)

// SettingsKey is the settings key holding the BrowserConfig.
const SettingsKey = "browser"

// BrowserConfig holds browser configuration
type BrowserConfig struct {
	Bin             string `json:"bin,omitempty"`             // Chromium binary (empty = system install, then download)
	AutoDownload    bool   `json:"autoDownload"`              // Download Chromium if none is found
	Headless        bool   `json:"headless"`                  // Run in headless mode
	NoSandbox       bool   `json:"noSandbox"`                 // Disable sandbox (needed for Docker/root)
	Profile         string `json:"profile,omitempty"`         // user-data-dir name under ~/.thatbrowser/profiles
	Stealth         bool   `json:"stealth"`                   // Enable stealth mode
	Device          string `json:"device,omitempty"`          // Device emulation: "clear", "laptop", "iphone-x", etc.
	ChromeCDP       string `json:"chromeCDP,omitempty"`       // Connect to this CDP endpoint instead of launching
	AllowPrivate    bool   `json:"allowPrivate"`              // Allow navigation to loopback and private networks
	NavigateTimeout string `json:"navigateTimeout,omitempty"` // e.g. "30s"
}

// DefaultBrowserConfig returns the default browser configuration
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{
		AutoDownload:    true,
		Headless:        true,
		Profile:         "default",
		Stealth:         true,
		Device:          "clear", // No viewport emulation, fills window
		NavigateTimeout: "30s",
	}
}

// ResolveTimeout returns the navigation timeout as a Duration
func (c *BrowserConfig) ResolveTimeout() time.Duration {
	d, err := time.ParseDuration(c.NavigateTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// Policy returns the navigation URL policy for this config.
func (c *BrowserConfig) Policy() URLPolicy {
	return URLPolicy{AllowPrivate: c.AllowPrivate}
}

var deviceNames = map[string]devices.Device{
	"laptop":        devices.LaptopWithMDPIScreen,
	"laptop-mdpi":   devices.LaptopWithMDPIScreen,
	"laptop-hidpi":  devices.LaptopWithHiDPIScreen,
	"laptop-touch":  devices.LaptopWithTouch,
	"iphone-x":      devices.IPhoneX,
	"iphone-8":      devices.IPhone6or7or8,
	"iphone-se":     devices.IPhone5orSE,
	"ipad":          devices.IPad,
	"ipad-mini":     devices.IPadMini,
	"ipad-pro":      devices.IPadPro,
	"pixel-2":       devices.Pixel2,
	"pixel-2-xl":    devices.Pixel2XL,
	"galaxy-s5":     devices.GalaxyS5,
	"galaxy-fold":   devices.GalaxyFold,
	"nexus-7":       devices.Nexus7,
	"nexus-10":      devices.Nexus10,
	"surface-duo":   devices.SurfaceDuo,
	"kindle-fire":   devices.KindleFireHDX,
	"moto-g4":       devices.MotoG4,
	"galaxy-note-3": devices.GalaxyNote3,
}

// ResolveDevice returns the emulated device for the configured name.
// "clear", empty and unknown names disable emulation.
func (c *BrowserConfig) ResolveDevice() devices.Device {
	if d, ok := deviceNames[strings.ToLower(c.Device)]; ok {
		return d
	}
	return devices.Clear
}
