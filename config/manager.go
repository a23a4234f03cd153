package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Manager is a flat key/value view over configuration sources. Nested
// YAML documents and prefixed environment variables are flattened to
// dotted keys ("server.port"), so the same getter reads either source.
// New uses it for environment overrides; it is also usable standalone.
type Manager struct {
	mu     sync.RWMutex
	values map[string]interface{}
}

// NewManager returns an empty manager.
func NewManager() *Manager {
	return &Manager{values: make(map[string]interface{})}
}

// Set stores a value under a dotted key.
func (m *Manager) Set(key string, value interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
}

// Get returns the raw value for a key.
func (m *Manager) Get(key string) (interface{}, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, exists := m.values[key]
	return value, exists
}

// GetString returns the value as a string, or def when the key is
// missing or not a string.
func (m *Manager) GetString(key, def string) string {
	if value, exists := m.Get(key); exists {
		if str, ok := value.(string); ok {
			return str
		}
	}
	return def
}

// GetInt returns the value as an int. Numeric YAML scalars and numeric
// strings from the environment both convert; anything else yields def.
func (m *Manager) GetInt(key string, def int) int {
	if value, exists := m.Get(key); exists {
		switch v := value.(type) {
		case int:
			return v
		case int64:
			return int(v)
		case float64:
			return int(v)
		case string:
			if i, err := strconv.Atoi(v); err == nil {
				return i
			}
		}
	}
	return def
}

// GetBool returns the value as a bool. The strings "true", "yes" and
// "1" count as true, matching common environment conventions.
func (m *Manager) GetBool(key string, def bool) bool {
	if value, exists := m.Get(key); exists {
		switch v := value.(type) {
		case bool:
			return v
		case string:
			return v == "true" || v == "yes" || v == "1"
		case int:
			return v != 0
		}
	}
	return def
}

// LoadFromEnv loads environment variables carrying the given prefix.
// The prefix and the separating underscore are stripped and the rest is
// lowercased with underscores mapped to dots, so SERVER_LOG_LEVEL
// becomes "log.level".
func (m *Manager) LoadFromEnv(prefix string) {
	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key, value := parts[0], parts[1]
		if prefix != "" {
			if !strings.HasPrefix(key, prefix) {
				continue
			}
			key = strings.TrimPrefix(key, prefix)
			key = strings.TrimPrefix(key, "_")
		}
		key = strings.ToLower(key)
		key = strings.ReplaceAll(key, "_", ".")
		m.Set(key, value)
	}
}

// LoadFromYAML loads a YAML file, flattening nested mappings to dotted
// keys.
func (m *Manager) LoadFromYAML(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", filename, err)
	}
	var values map[string]interface{}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("config: parse %s: %w", filename, err)
	}
	m.loadFromMap("", values)
	return nil
}

func (m *Manager) loadFromMap(prefix string, values map[string]interface{}) {
	for key, value := range values {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := value.(map[string]interface{}); ok {
			m.loadFromMap(fullKey, nested)
		} else {
			m.Set(fullKey, value)
		}
	}
}
