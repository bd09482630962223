package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxline-ai/voxline/pkg/types"
)

const ddl = `
CREATE TABLE IF NOT EXISTS tenants (
    id               TEXT        PRIMARY KEY,
    name             TEXT        NOT NULL DEFAULT '',
    agent_name       TEXT        NOT NULL DEFAULT '',
    personality      TEXT        NOT NULL DEFAULT '',
    business_hours   TEXT        NOT NULL DEFAULT '',
    escalation_phone TEXT        NOT NULL DEFAULT '',
    slot_capacity    INT         NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS bookings (
    id                BIGSERIAL   PRIMARY KEY,
    tenant_id         TEXT        NOT NULL,
    confirmation_code TEXT        NOT NULL,
    customer_name     TEXT        NOT NULL,
    phone             TEXT        NOT NULL DEFAULT '',
    date              TEXT        NOT NULL,
    time_slot         TEXT        NOT NULL,
    party_size        INT         NOT NULL DEFAULT 0,
    notes             TEXT        NOT NULL DEFAULT '',
    created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_bookings_confirmation
    ON bookings (tenant_id, confirmation_code);

CREATE INDEX IF NOT EXISTS idx_bookings_slot
    ON bookings (tenant_id, date, time_slot);

CREATE TABLE IF NOT EXISTS orders (
    id                BIGSERIAL   PRIMARY KEY,
    tenant_id         TEXT        NOT NULL,
    confirmation_code TEXT        NOT NULL,
    customer_name     TEXT        NOT NULL,
    phone             TEXT        NOT NULL DEFAULT '',
    order_type        TEXT        NOT NULL,
    items             TEXT        NOT NULL,
    notes             TEXT        NOT NULL DEFAULT '',
    created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_confirmation
    ON orders (tenant_id, confirmation_code);

CREATE TABLE IF NOT EXISTS contacts (
    id         BIGSERIAL   PRIMARY KEY,
    tenant_id  TEXT        NOT NULL,
    name       TEXT        NOT NULL DEFAULT '',
    phone      TEXT        NOT NULL DEFAULT '',
    email      TEXT        NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS transcript_entries (
    id         BIGSERIAL   PRIMARY KEY,
    tenant_id  TEXT        NOT NULL,
    session_id TEXT        NOT NULL,
    role       TEXT        NOT NULL,
    text       TEXT        NOT NULL,
    provider   TEXT        NOT NULL DEFAULT '',
    timestamp  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transcript_session
    ON transcript_entries (tenant_id, session_id, timestamp);
`

// PostgresStore implements Store and TenantDirectory on a PostgreSQL
// database. All methods are safe for concurrent use.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the database at dsn, verifies connectivity,
// and ensures all required tables exist.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if _, err := pool.Exec(ctx, ddl); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// CreateBooking implements Store.
func (s *PostgresStore) CreateBooking(ctx context.Context, b Booking) error {
	const q = `
		INSERT INTO bookings
		    (tenant_id, confirmation_code, customer_name, phone, date, time_slot, party_size, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.pool.Exec(ctx, q,
		b.TenantID,
		b.ConfirmationCode,
		b.CustomerName,
		b.Phone,
		b.Date,
		b.TimeSlot,
		b.PartySize,
		b.Notes,
		b.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres store: create booking: %w", ErrDuplicateCode)
		}
		return fmt.Errorf("postgres store: create booking: %w", err)
	}
	return nil
}

// BookingsForSlot implements Store.
func (s *PostgresStore) BookingsForSlot(ctx context.Context, tenantID, date, timeSlot string) (int, error) {
	const q = `
		SELECT count(*)
		FROM   bookings
		WHERE  tenant_id = $1 AND date = $2 AND time_slot = $3`

	var n int
	if err := s.pool.QueryRow(ctx, q, tenantID, date, timeSlot).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres store: bookings for slot: %w", err)
	}
	return n, nil
}

// CreateOrder implements Store.
func (s *PostgresStore) CreateOrder(ctx context.Context, o Order) error {
	const q = `
		INSERT INTO orders
		    (tenant_id, confirmation_code, customer_name, phone, order_type, items, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.pool.Exec(ctx, q,
		o.TenantID,
		o.ConfirmationCode,
		o.CustomerName,
		o.Phone,
		o.OrderType,
		o.Items,
		o.Notes,
		o.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres store: create order: %w", ErrDuplicateCode)
		}
		return fmt.Errorf("postgres store: create order: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a Postgres unique constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// SaveContact implements Store.
func (s *PostgresStore) SaveContact(ctx context.Context, c Contact) error {
	const q = `
		INSERT INTO contacts (tenant_id, name, phone, email, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	if _, err := s.pool.Exec(ctx, q, c.TenantID, c.Name, c.Phone, c.Email, c.CreatedAt); err != nil {
		return fmt.Errorf("postgres store: save contact: %w", err)
	}
	return nil
}

// AppendTranscript implements Store.
func (s *PostgresStore) AppendTranscript(ctx context.Context, e types.TranscriptEntry) error {
	const q = `
		INSERT INTO transcript_entries (tenant_id, session_id, role, text, provider, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.pool.Exec(ctx, q,
		e.TenantID,
		e.SessionID,
		e.Role,
		e.Text,
		e.Provider,
		e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres store: append transcript: %w", err)
	}
	return nil
}

// Lookup implements TenantDirectory.
func (s *PostgresStore) Lookup(ctx context.Context, tenantID string) (Tenant, error) {
	const q = `
		SELECT id, name, agent_name, personality, business_hours, escalation_phone, slot_capacity
		FROM   tenants
		WHERE  id = $1`

	var t Tenant
	err := s.pool.QueryRow(ctx, q, tenantID).Scan(
		&t.ID,
		&t.Name,
		&t.AgentName,
		&t.Personality,
		&t.BusinessHours,
		&t.EscalationPhone,
		&t.SlotCapacity,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Tenant{}, fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
	}
	if err != nil {
		return Tenant{}, fmt.Errorf("postgres store: lookup tenant: %w", err)
	}
	return t, nil
}

// Ping implements Store.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close implements Store.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Compile-time interface checks.
var (
	_ Store           = (*PostgresStore)(nil)
	_ TenantDirectory = (*PostgresStore)(nil)
)
