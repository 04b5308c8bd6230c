// Package device provides the stable device identifier sent with every chat
// request. The identity is explicit state owned by whoever constructs the
// Provider, not a process-global cache.
package device

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const idFilename = "device_id"

// Provider creates and caches the device identifier under the settings
// directory.
type Provider struct {
	path string

	mu sync.Mutex
	id string
}

// NewProvider creates a provider rooted at the given settings directory.
func NewProvider(settingsDir string) *Provider {
	return &Provider{path: filepath.Join(settingsDir, idFilename)}
}

// DeviceID returns the cached identifier, reading it from disk or minting a
// new one on first use.
func (p *Provider) DeviceID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.id != "" {
		return p.id, nil
	}

	if data, err := os.ReadFile(p.path); err == nil {
		id := strings.TrimSpace(string(data))
		if id != "" {
			p.id = id
			return id, nil
		}
	}

	id := uuid.NewString()
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create settings directory: %w", err)
	}
	if err := os.WriteFile(p.path, []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("failed to persist device id: %w", err)
	}

	p.id = id
	return id, nil
}
