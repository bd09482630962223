// Package store defines the persistence boundary of the orchestration core.
//
// Everything durable the agent produces flows through the Store interface:
// bookings and orders created by tools, caller contacts, and the ordered
// conversation transcript of every call and chat session. All records are
// keyed by tenant id, since one process serves many businesses.
//
// Two implementations exist: the PostgreSQL store used in production (see
// postgres.go) and the in-memory store used by tests and local development
// (see memory.go).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/voxline-ai/voxline/pkg/types"
)

// ErrTenantNotFound is returned by TenantDirectory.Lookup for unknown tenant
// ids.
var ErrTenantNotFound = errors.New("store: tenant not found")

// ErrDuplicateCode is returned by CreateBooking and CreateOrder when the
// confirmation code already exists for the tenant. Callers regenerate the
// code and retry.
var ErrDuplicateCode = errors.New("store: duplicate confirmation code")

// Booking is a persisted table/appointment reservation.
type Booking struct {
	TenantID         string
	ConfirmationCode string
	CustomerName     string
	Phone            string
	Date             string
	TimeSlot         string
	PartySize        int
	Notes            string
	CreatedAt        time.Time
}

// Order is a persisted pickup or delivery order.
type Order struct {
	TenantID         string
	ConfirmationCode string
	CustomerName     string
	Phone            string
	OrderType        string
	Items            string
	Notes            string
	CreatedAt        time.Time
}

// Contact is a caller/visitor record captured during a session.
type Contact struct {
	TenantID  string
	Name      string
	Phone     string
	Email     string
	CreatedAt time.Time
}

// Store is the persistence interface consumed by the tool executor and the
// session layer. Implementations must be safe for concurrent use.
type Store interface {
	// CreateBooking persists a booking. The confirmation code must already be
	// set by the caller; a code already in use for the tenant returns
	// ErrDuplicateCode.
	CreateBooking(ctx context.Context, b Booking) error

	// BookingsForSlot counts existing bookings for one tenant, date, and time
	// slot. Used by availability checks.
	BookingsForSlot(ctx context.Context, tenantID, date, timeSlot string) (int, error)

	// CreateOrder persists an order. The confirmation code must already be
	// set by the caller; a code already in use for the tenant returns
	// ErrDuplicateCode.
	CreateOrder(ctx context.Context, o Order) error

	// SaveContact persists a caller contact record.
	SaveContact(ctx context.Context, c Contact) error

	// AppendTranscript appends one conversation turn to the session's
	// transcript log.
	AppendTranscript(ctx context.Context, e types.TranscriptEntry) error

	// Ping verifies the backing service is reachable. Used by health checks.
	Ping(ctx context.Context) error

	// Close releases the store's resources.
	Close()
}

// Tenant is the per-business configuration returned by TenantDirectory.
type Tenant struct {
	ID              string
	Name            string
	AgentName       string
	Personality     string
	BusinessHours   string
	EscalationPhone string

	// SlotCapacity is the maximum number of concurrent bookings per time
	// slot. Zero means unlimited.
	SlotCapacity int
}

// TenantDirectory resolves tenant configuration at session start.
// Implementations must be safe for concurrent use.
type TenantDirectory interface {
	// Lookup returns the tenant's configuration, or ErrTenantNotFound.
	Lookup(ctx context.Context, tenantID string) (Tenant, error)
}
