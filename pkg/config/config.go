// Package config handles loading and writing the workspace config.toml.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// FileName is the config file inside the workspace directory.
const FileName = "config.toml"

// Workspace is the per-replica configuration written by init.
type Workspace struct {
	// Prefix is the id prefix for issues created here, e.g. "prj".
	Prefix string `toml:"prefix"`

	// RelayURL is the websocket endpoint to sync against. Empty means
	// this replica works fully offline until one is configured.
	RelayURL string `toml:"relay_url,omitempty"`

	// NodeID pins this replica's clock node id. Zero means derive it
	// from user and hostname.
	NodeID uint32 `toml:"node_id,omitempty"`
}

// Default returns the config written by init.
func Default(prefix string) Workspace {
	return Workspace{Prefix: prefix}
}

// Marshal encodes the config to TOML bytes.
func (w *Workspace) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(w); err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	return buf.Bytes(), nil
}

// Load reads the config from a workspace directory.
func Load(dir string) (*Workspace, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading config %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes TOML data into a Workspace config.
func Parse(data []byte) (*Workspace, error) {
	var cfg Workspace
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.Prefix == "" {
		return nil, fmt.Errorf("config: prefix is required")
	}
	return &cfg, nil
}

// Save writes the config into a workspace directory.
func Save(dir string, cfg Workspace) error {
	data, err := cfg.Marshal()
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, FileName), data, 0o644)
}
