package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	. "github.com/asukul/thatbrowser/internal/logging"
)

// DefaultBackupCount is the default number of backup versions to keep.
const DefaultBackupCount = 5

// Format is a settings file encoding, chosen by file extension.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatFor returns the encoding for a path. Unknown extensions are JSON.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".toml":
		return FormatTOML
	default:
		return FormatJSON
	}
}

func decode(format Format, data []byte) (map[string]any, error) {
	out := map[string]any{}
	if len(bytes.TrimSpace(data)) == 0 {
		return out, nil
	}
	var err error
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, &out)
	case FormatTOML:
		_, err = toml.Decode(string(data), &out)
	default:
		err = json.Unmarshal(data, &out)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s settings: %w", format, err)
	}
	return out, nil
}

func encode(format Format, values map[string]any) ([]byte, error) {
	switch format {
	case FormatYAML:
		return yaml.Marshal(values)
	case FormatTOML:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(values); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		data, err := json.MarshalIndent(values, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	}
}

// AtomicWrite replaces path with data through a temp file in the same
// directory and a rename, so readers never see a partial file.
func AtomicWrite(path string, data []byte, perm os.FileMode) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".thatbrowser-*.tmp")
	if err != nil {
		return fmt.Errorf("config: create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err = tmp.Chmod(perm); err != nil {
		return fmt.Errorf("config: chmod temp file: %w", err)
	}
	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("config: write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("config: sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("config: close temp file: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("config: replace %s: %w", path, err)
	}
	return nil
}

// backupName is path.bak for generation 0 and path.bak.N after that.
func backupName(path string, gen int) string {
	if gen == 0 {
		return path + ".bak"
	}
	return fmt.Sprintf("%s.bak.%d", path, gen)
}

// writeWithBackup saves prev (the current file contents, if any) as
// path.bak, shifting older generations up and dropping the one beyond
// keep, then writes data.
func writeWithBackup(path string, prev, data []byte, keep int) error {
	if keep <= 0 {
		keep = DefaultBackupCount
	}
	if prev != nil {
		shiftBackups(path, keep)
		if err := os.WriteFile(backupName(path, 0), prev, 0o600); err != nil {
			L_warn("config: backup failed, saving anyway", "error", err)
		}
	}
	if err := AtomicWrite(path, data, 0o600); err != nil {
		return err
	}
	L_debug("config: saved", "path", path, "bytes", len(data))
	return nil
}

func shiftBackups(path string, keep int) {
	last := keep - 1
	if err := os.Remove(backupName(path, last)); err != nil && !errors.Is(err, os.ErrNotExist) {
		L_trace("config: drop oldest backup", "error", err)
	}
	for gen := last - 1; gen >= 0; gen-- {
		if err := os.Rename(backupName(path, gen), backupName(path, gen+1)); err != nil && !errors.Is(err, os.ErrNotExist) {
			L_trace("config: shift backup", "generation", gen, "error", err)
		}
	}
}
