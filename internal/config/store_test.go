package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type providerEntry struct {
	Kind    string `json:"kind"`
	BaseURL string `json:"baseURL"`
	Model   string `json:"model"`
	Timeout int    `json:"timeoutSeconds,omitempty"`
}

func TestStoreRoundTripFormats(t *testing.T) {
	for _, name := range []string{"settings.json", "settings.yaml", "settings.toml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			s, err := Open(path)
			require.NoError(t, err)

			var missing string
			ok, err := s.Get("defaultProvider", &missing)
			require.NoError(t, err)
			assert.False(t, ok)

			providers := map[string]providerEntry{
				"local": {Kind: "ollama", BaseURL: "http://localhost:11434", Model: "llama3", Timeout: 30},
			}
			require.NoError(t, s.Set("providers", providers))
			require.NoError(t, s.Set("defaultProvider", "local"))

			reopened, err := Open(path)
			require.NoError(t, err)

			var got map[string]providerEntry
			ok, err = reopened.Get("providers", &got)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, providers, got)

			var def string
			ok, err = reopened.Get("defaultProvider", &def)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "local", def)
		})
	}
}

func TestStoreSetNilRemovesKey(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "settings.json"))
	require.NoError(t, err)

	require.NoError(t, s.Set("stt", map[string]string{"kind": "groq"}))
	require.NoError(t, s.Set("stt", nil))

	var v map[string]string
	ok, err := s.Get("stt", &v)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreKeepsBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	s, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, s.Set("a", 1))
	require.NoError(t, s.Set("a", 2))

	_, err = os.Stat(path + ".bak")
	assert.NoError(t, err)
}

func TestBackupGenerationsAreBounded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	s, err := Open(path)
	require.NoError(t, err)

	for i := 1; i <= 7; i++ {
		require.NoError(t, s.Set("a", i))
	}

	prev, err := os.ReadFile(path + ".bak")
	require.NoError(t, err)
	assert.Contains(t, string(prev), "6")
	for gen := 1; gen < DefaultBackupCount; gen++ {
		_, err := os.Stat(backupName(path, gen))
		assert.NoError(t, err, "generation %d", gen)
	}
	_, err = os.Stat(backupName(path, DefaultBackupCount))
	assert.True(t, os.IsNotExist(err))
}

func TestStoreRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	_, err := Open(path)
	assert.Error(t, err)
}

func TestStoreWatchReloadsExternalEdits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Set("defaultProvider", "a"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var changes int32
	require.NoError(t, s.Watch(ctx, func() { atomic.AddInt32(&changes, 1) }))

	require.NoError(t, os.WriteFile(path, []byte(`{"defaultProvider":"b"}`), 0600))

	require.Eventually(t, func() bool {
		var v string
		_, _ = s.Get("defaultProvider", &v)
		return v == "b" && atomic.LoadInt32(&changes) >= 1
	}, 3*time.Second, 20*time.Millisecond)
}

func TestFormatFor(t *testing.T) {
	assert.Equal(t, FormatYAML, FormatFor("x.yml"))
	assert.Equal(t, FormatYAML, FormatFor("x.YAML"))
	assert.Equal(t, FormatTOML, FormatFor("x.toml"))
	assert.Equal(t, FormatJSON, FormatFor("x.json"))
	assert.Equal(t, FormatJSON, FormatFor("x"))
}
