package storage

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ruteri/resource-store/interfaces"
)

// DefaultSchemes is the process-wide scheme matcher.
var DefaultSchemes = NewSchemeMatcher()

// SchemeMatcher maps URI schemes to store types. Built-in schemes are always
// known; further schemes can be registered at runtime.
type SchemeMatcher struct {
	mu     sync.RWMutex
	custom map[string]interfaces.StoreType
}

// NewSchemeMatcher returns a matcher that knows only the built-in schemes.
func NewSchemeMatcher() *SchemeMatcher {
	return &SchemeMatcher{custom: make(map[string]interfaces.StoreType)}
}

// Match returns the store type for the scheme of uri. Schemes compare
// case-insensitively; built-in schemes take precedence over custom ones.
func (m *SchemeMatcher) Match(uri string) (interfaces.StoreType, bool) {
	scheme, ok := interfaces.SchemeOf(uri)
	if !ok {
		return "", false
	}
	if t := interfaces.StoreType(scheme); t.IsBuiltin() {
		return t, true
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.custom[scheme]
	return t, ok
}

// RegisterCustomScheme adds a scheme to the matcher. Built-in names, names
// that are already registered and names that are not valid URI schemes are
// rejected.
func (m *SchemeMatcher) RegisterCustomScheme(name string) error {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return interfaces.InvalidArgument("register", name, "scheme name is required")
	}
	if scheme, ok := interfaces.SchemeOf(key + ":"); !ok || scheme != key {
		return interfaces.InvalidArgument("register", name, "invalid scheme name %q", name)
	}
	if interfaces.StoreType(key).IsBuiltin() {
		return interfaces.InvalidArgument("register", name, "scheme %s is built in", key)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.custom[key]; exists {
		return interfaces.InvalidArgument("register", name, "scheme %s already registered", key)
	}
	m.custom[key] = interfaces.StoreType(key)
	return nil
}

// EnsureScheme registers name unless the matcher already knows it.
func (m *SchemeMatcher) EnsureScheme(name string) error {
	if _, ok := m.Match(name + ":"); ok {
		return nil
	}
	err := m.RegisterCustomScheme(name)
	if err != nil {
		// A concurrent registration of the same name is fine.
		if _, ok := m.Match(name + ":"); ok {
			return nil
		}
	}
	return err
}

// Schemes returns the built-in and custom store types, sorted by name.
func (m *SchemeMatcher) Schemes() []interfaces.StoreType {
	m.mu.RLock()
	result := make([]interfaces.StoreType, 0, len(interfaces.BuiltinStoreTypes)+len(m.custom))
	result = append(result, interfaces.BuiltinStoreTypes...)
	for _, t := range m.custom {
		result = append(result, t)
	}
	m.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}

// String lists the known schemes, for diagnostics.
func (m *SchemeMatcher) String() string {
	schemes := m.Schemes()
	names := make([]string, len(schemes))
	for i, s := range schemes {
		names[i] = string(s)
	}
	return fmt.Sprintf("schemes[%s]", strings.Join(names, ","))
}
