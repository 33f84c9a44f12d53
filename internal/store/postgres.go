package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to the database and verifies the connection.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS customer_sessions (
	id TEXT PRIMARY KEY,
	thread_ref TEXT NOT NULL,
	customer_ref TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'active',
	turns JSONB NOT NULL DEFAULT '[]',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_sessions_thread_customer
	ON customer_sessions(thread_ref, customer_ref);

CREATE INDEX IF NOT EXISTS idx_sessions_customer
	ON customer_sessions(customer_ref, created_at DESC);

CREATE TABLE IF NOT EXISTS product_requests (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES customer_sessions(id) ON DELETE CASCADE,
	product_name TEXT NOT NULL,
	country TEXT NOT NULL,
	quantity INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_product_requests_session
	ON product_requests(session_id);

CREATE TABLE IF NOT EXISTS agents (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	agent_type TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'idle',
	config JSONB,
	is_active BOOLEAN NOT NULL DEFAULT true,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Migrate creates the schema if it does not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

func (p *Postgres) CreateSession(ctx context.Context, threadRef, customerRef string) (*Session, error) {
	sess := &Session{
		ID:          NewID(),
		ThreadRef:   threadRef,
		CustomerRef: customerRef,
		Status:      StatusActive,
		Turns:       []Turn{},
	}
	row := p.pool.QueryRow(ctx,
		`INSERT INTO customer_sessions (id, thread_ref, customer_ref, status, turns)
		 VALUES ($1, $2, $3, $4, '[]')
		 RETURNING created_at, updated_at`,
		sess.ID, threadRef, customerRef, StatusActive)
	if err := row.Scan(&sess.CreatedAt, &sess.UpdatedAt); err != nil {
		return nil, fmt.Errorf("postgres: create session: %w", err)
	}
	return sess, nil
}

func (p *Postgres) GetSession(ctx context.Context, threadRef, customerRef string) (*Session, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT id, thread_ref, customer_ref, status, turns, created_at, updated_at
		 FROM customer_sessions
		 WHERE thread_ref = $1 AND customer_ref = $2
		 ORDER BY created_at DESC LIMIT 1`,
		threadRef, customerRef)
	return scanSession(row)
}

func (p *Postgres) GetSessionByID(ctx context.Context, id string) (*Session, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT id, thread_ref, customer_ref, status, turns, created_at, updated_at
		 FROM customer_sessions WHERE id = $1`, id)
	return scanSession(row)
}

func (p *Postgres) ListSessions(ctx context.Context, customerRef string) ([]*Session, error) {
	query := `SELECT id, thread_ref, customer_ref, status, turns, created_at, updated_at
		 FROM customer_sessions`
	args := []any{}
	if customerRef != "" {
		query += ` WHERE customer_ref = $1`
		args = append(args, customerRef)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (p *Postgres) AppendTurns(ctx context.Context, sessionID string, turns []Turn) error {
	data, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("postgres: encode turns: %w", err)
	}
	tag, err := p.pool.Exec(ctx,
		`UPDATE customer_sessions
		 SET turns = turns || $2::jsonb, updated_at = now()
		 WHERE id = $1`, sessionID, data)
	if err != nil {
		return fmt.Errorf("postgres: append turns: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) CompleteSession(ctx context.Context, sessionID string, turns []Turn, items []ProductOrderItem) ([]ProductOrderItem, error) {
	data, err := json.Marshal(turns)
	if err != nil {
		return nil, fmt.Errorf("postgres: encode turns: %w", err)
	}

	created := make([]ProductOrderItem, len(items))
	err = pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE customer_sessions
			 SET turns = turns || $2::jsonb, status = $3, updated_at = now()
			 WHERE id = $1`, sessionID, data, StatusComplete)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}

		for i, item := range items {
			item.ID = NewID()
			item.SessionID = sessionID
			row := tx.QueryRow(ctx,
				`INSERT INTO product_requests (id, session_id, product_name, country, quantity)
				 VALUES ($1, $2, $3, $4, $5)
				 RETURNING created_at`,
				item.ID, sessionID, item.Product, item.Country, item.Quantity)
			if err := row.Scan(&item.CreatedAt); err != nil {
				return err
			}
			created[i] = item
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("postgres: complete session: %w", err)
	}
	return created, nil
}

func (p *Postgres) ListProductItems(ctx context.Context, sessionID string) ([]ProductOrderItem, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, session_id, product_name, country, quantity, created_at
		 FROM product_requests WHERE session_id = $1 ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list product items: %w", err)
	}
	defer rows.Close()

	var items []ProductOrderItem
	for rows.Next() {
		var item ProductOrderItem
		if err := rows.Scan(&item.ID, &item.SessionID, &item.Product, &item.Country, &item.Quantity, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan product item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (p *Postgres) PurgeIdleSessions(ctx context.Context, idle time.Duration) (int, error) {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM customer_sessions
		 WHERE status = $1 AND updated_at < now() - $2::interval`,
		StatusActive, fmt.Sprintf("%d seconds", int(idle.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("postgres: purge idle sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (p *Postgres) CreateAgent(ctx context.Context, a *Agent) (*Agent, error) {
	stored := *a
	stored.ID = NewID()
	if stored.Status == "" {
		stored.Status = "idle"
	}
	cfg, err := json.Marshal(stored.Config)
	if err != nil {
		return nil, fmt.Errorf("postgres: encode agent config: %w", err)
	}
	row := p.pool.QueryRow(ctx,
		`INSERT INTO agents (id, name, description, agent_type, status, config, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING created_at, updated_at`,
		stored.ID, stored.Name, stored.Description, stored.Type, stored.Status, cfg, stored.Active)
	if err := row.Scan(&stored.CreatedAt, &stored.UpdatedAt); err != nil {
		return nil, fmt.Errorf("postgres: create agent: %w", err)
	}
	return &stored, nil
}

func (p *Postgres) GetAgent(ctx context.Context, id string) (*Agent, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT id, name, description, agent_type, status, config, is_active, created_at, updated_at
		 FROM agents WHERE id = $1`, id)
	return scanAgent(row)
}

func (p *Postgres) ListAgents(ctx context.Context) ([]*Agent, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, name, description, agent_type, status, config, is_active, created_at, updated_at
		 FROM agents ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list agents: %w", err)
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

func (p *Postgres) UpdateAgent(ctx context.Context, a *Agent) (*Agent, error) {
	updated := *a
	cfg, err := json.Marshal(updated.Config)
	if err != nil {
		return nil, fmt.Errorf("postgres: encode agent config: %w", err)
	}
	row := p.pool.QueryRow(ctx,
		`UPDATE agents
		 SET name = $2, description = $3, agent_type = $4, status = $5, config = $6,
		     is_active = $7, updated_at = now()
		 WHERE id = $1
		 RETURNING created_at, updated_at`,
		updated.ID, updated.Name, updated.Description, updated.Type, updated.Status, cfg, updated.Active)
	if err := row.Scan(&updated.CreatedAt, &updated.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("postgres: update agent: %w", err)
	}
	return &updated, nil
}

func (p *Postgres) DeleteAgent(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM agents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete agent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var sess Session
	var turns []byte
	err := row.Scan(&sess.ID, &sess.ThreadRef, &sess.CustomerRef, &sess.Status,
		&turns, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("postgres: scan session: %w", err)
	}
	if err := json.Unmarshal(turns, &sess.Turns); err != nil {
		return nil, fmt.Errorf("postgres: decode turns: %w", err)
	}
	return &sess, nil
}

func scanAgent(row rowScanner) (*Agent, error) {
	var a Agent
	var cfg []byte
	err := row.Scan(&a.ID, &a.Name, &a.Description, &a.Type, &a.Status,
		&cfg, &a.Active, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("postgres: scan agent: %w", err)
	}
	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &a.Config); err != nil {
			return nil, fmt.Errorf("postgres: decode agent config: %w", err)
		}
	}
	return &a, nil
}
