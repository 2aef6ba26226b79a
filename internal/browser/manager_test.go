package browser

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManagerExpandsBinTilde(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("THATBROWSER_HOME", filepath.Join(home, ".thatbrowser"))

	cfg := DefaultBrowserConfig()
	cfg.Bin = "~/chromium/chrome"
	m, err := NewManager(cfg)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "chromium", "chrome"), m.Config().Bin)

	cfg.Bin = "/opt/chrome"
	m, err = NewManager(cfg)
	require.NoError(t, err)
	assert.Equal(t, "/opt/chrome", m.Config().Bin)
}
