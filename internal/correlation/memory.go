package correlation

import (
	"context"
	"sync"
)

type memoryStore struct {
	mu          sync.RWMutex
	handles     map[int64]Handle
	byCustomer  map[string]int64
	transcripts map[int64]string
}

// NewMemory returns an in-process correlation store. State does not survive
// a daemon restart; the reaper sweep covers calls orphaned that way.
func NewMemory() Store {
	return &memoryStore{
		handles:     make(map[int64]Handle),
		byCustomer:  make(map[string]int64),
		transcripts: make(map[int64]string),
	}
}

func (m *memoryStore) Put(_ context.Context, handle Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.handles[handle.CallID]; ok && prev.CustomerID != handle.CustomerID {
		delete(m.byCustomer, prev.CustomerID)
	}
	m.handles[handle.CallID] = handle
	if handle.CustomerID != "" {
		m.byCustomer[handle.CustomerID] = handle.CallID
	}
	return nil
}

func (m *memoryStore) Get(_ context.Context, callID int64) (Handle, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	handle, ok := m.handles[callID]
	return handle, ok, nil
}

func (m *memoryStore) ByCustomer(_ context.Context, customerID string) (Handle, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	callID, ok := m.byCustomer[customerID]
	if !ok {
		return Handle{}, false, nil
	}
	handle, ok := m.handles[callID]
	return handle, ok, nil
}

func (m *memoryStore) SetTranscript(_ context.Context, callID int64, transcript string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transcripts[callID] = transcript
	return nil
}

func (m *memoryStore) Transcript(_ context.Context, callID int64) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	transcript, ok := m.transcripts[callID]
	return transcript, ok, nil
}

func (m *memoryStore) Remove(_ context.Context, callID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if handle, ok := m.handles[callID]; ok && handle.CustomerID != "" {
		if current, indexed := m.byCustomer[handle.CustomerID]; indexed && current == callID {
			delete(m.byCustomer, handle.CustomerID)
		}
	}
	delete(m.handles, callID)
	delete(m.transcripts, callID)
	return nil
}
