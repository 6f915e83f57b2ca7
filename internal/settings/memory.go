package settings

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/agendaautomatizada/whatsapp/api"
)

// Memory implements Store in process memory. It backs tests and the
// single-operator quickstart mode where no database path is configured.
type Memory struct {
	mu        sync.RWMutex
	operators map[string]Operator
	features  map[string]map[string]bool
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		operators: make(map[string]Operator),
		features:  make(map[string]map[string]bool),
	}
}

// Operator implements Store.
func (m *Memory) Operator(_ context.Context, id string) (*Operator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	op, ok := m.operators[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := op
	return &cp, nil
}

// OperatorByPhone implements Store.
func (m *Memory) OperatorByPhone(_ context.Context, phoneNumberID string) (*Operator, error) {
	if phoneNumberID == "" {
		return nil, ErrNotFound
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, op := range m.operators {
		if op.PhoneNumberID == phoneNumberID {
			cp := op
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// PutOperator implements Store.
func (m *Memory) PutOperator(_ context.Context, op *Operator) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *op
	if cp.Role == "" {
		cp.Role = RoleOperator
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	m.operators[cp.ID] = cp
	return nil
}

// Features implements Store.
func (m *Memory) Features(_ context.Context, operatorID string) ([]api.FeatureFlag, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := m.features[operatorID]
	flags := make([]api.FeatureFlag, 0, len(set))
	for name, enabled := range set {
		flags = append(flags, api.FeatureFlag{Name: name, Enabled: enabled})
	}
	sort.Slice(flags, func(i, j int) bool { return flags[i].Name < flags[j].Name })
	return flags, nil
}

// SetFeature implements Store.
func (m *Memory) SetFeature(_ context.Context, operatorID, name string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.features[operatorID]
	if set == nil {
		set = make(map[string]bool)
		m.features[operatorID] = set
	}
	set[name] = enabled
	return nil
}

// Close implements Store.
func (m *Memory) Close() error { return nil }
