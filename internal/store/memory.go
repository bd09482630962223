package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/voxline-ai/voxline/pkg/types"
)

// MemoryStore is an in-memory Store and TenantDirectory for tests and local
// development. Safe for concurrent use.
type MemoryStore struct {
	mu          sync.RWMutex
	tenants     map[string]Tenant
	bookings    []Booking
	orders      []Order
	contacts    []Contact
	transcripts []types.TranscriptEntry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tenants: make(map[string]Tenant)}
}

// AddTenant registers a tenant for Lookup.
func (s *MemoryStore) AddTenant(t Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[t.ID] = t
}

// CreateBooking implements Store.
func (s *MemoryStore) CreateBooking(_ context.Context, b Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, have := range s.bookings {
		if have.TenantID == b.TenantID && have.ConfirmationCode == b.ConfirmationCode {
			return fmt.Errorf("memory store: create booking: %w", ErrDuplicateCode)
		}
	}
	s.bookings = append(s.bookings, b)
	return nil
}

// BookingsForSlot implements Store.
func (s *MemoryStore) BookingsForSlot(_ context.Context, tenantID, date, timeSlot string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, b := range s.bookings {
		if b.TenantID == tenantID && b.Date == date && b.TimeSlot == timeSlot {
			n++
		}
	}
	return n, nil
}

// CreateOrder implements Store.
func (s *MemoryStore) CreateOrder(_ context.Context, o Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, have := range s.orders {
		if have.TenantID == o.TenantID && have.ConfirmationCode == o.ConfirmationCode {
			return fmt.Errorf("memory store: create order: %w", ErrDuplicateCode)
		}
	}
	s.orders = append(s.orders, o)
	return nil
}

// SaveContact implements Store.
func (s *MemoryStore) SaveContact(_ context.Context, c Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts = append(s.contacts, c)
	return nil
}

// AppendTranscript implements Store.
func (s *MemoryStore) AppendTranscript(_ context.Context, e types.TranscriptEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcripts = append(s.transcripts, e)
	return nil
}

// Lookup implements TenantDirectory.
func (s *MemoryStore) Lookup(_ context.Context, tenantID string) (Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[tenantID]
	if !ok {
		return Tenant{}, fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
	}
	return t, nil
}

// Ping implements Store.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close implements Store.
func (s *MemoryStore) Close() {}

// Bookings returns a snapshot of all persisted bookings.
func (s *MemoryStore) Bookings() []Booking {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Booking, len(s.bookings))
	copy(out, s.bookings)
	return out
}

// Orders returns a snapshot of all persisted orders.
func (s *MemoryStore) Orders() []Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Order, len(s.orders))
	copy(out, s.orders)
	return out
}

// Contacts returns a snapshot of all persisted contacts.
func (s *MemoryStore) Contacts() []Contact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Contact, len(s.contacts))
	copy(out, s.contacts)
	return out
}

// Transcripts returns a snapshot of all transcript entries.
func (s *MemoryStore) Transcripts() []types.TranscriptEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.TranscriptEntry, len(s.transcripts))
	copy(out, s.transcripts)
	return out
}

// Compile-time interface checks.
var (
	_ Store           = (*MemoryStore)(nil)
	_ TenantDirectory = (*MemoryStore)(nil)
)
