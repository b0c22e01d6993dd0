package persist

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"collabsync/pkg/protocol"
)

const DefaultTable = "documents"

// Execer is the part of *pgxpool.Pool the sink needs.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Postgres upserts the latest content of each room into one row.
type Postgres struct {
	db    Execer
	table string
	log   *slog.Logger
}

func NewPostgres(db Execer, table string, logger *slog.Logger) *Postgres {
	if table == "" {
		table = DefaultTable
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{db: db, table: table, log: logger}
}

// Connect opens a pool for dsn and checks it with a ping.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	if dsn == "" {
		return nil, ErrNoDSN
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

func (p *Postgres) upsertSQL() string {
	table := pgx.Identifier{p.table}.Sanitize()
	return fmt.Sprintf(`INSERT INTO %s (room_id, content, language, request_id, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (room_id) DO UPDATE
SET content = EXCLUDED.content, language = EXCLUDED.language,
    request_id = EXCLUDED.request_id, updated_at = EXCLUDED.updated_at
WHERE %s.updated_at <= EXCLUDED.updated_at`, table, table)
}

// CreateTableSQL returns the schema the sink writes to.
func (p *Postgres) CreateTableSQL() string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    room_id    TEXT PRIMARY KEY,
    content    TEXT NOT NULL,
    language   TEXT NOT NULL DEFAULT '',
    request_id TEXT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
)`, pgx.Identifier{p.table}.Sanitize())
}

func (p *Postgres) EnsureTable(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, p.CreateTableSQL()); err != nil {
		return fmt.Errorf("create table %s: %w", p.table, err)
	}
	return nil
}

// Save writes req unless a newer save for the room is already stored.
func (p *Postgres) Save(ctx context.Context, req protocol.PersistRequest) error {
	if req.RoomID == "" {
		return ErrEmptyRoom
	}
	tag, err := p.db.Exec(ctx, p.upsertSQL(), req.RoomID, req.Content, req.Language, req.ID, req.RequestedAt)
	if err != nil {
		return fmt.Errorf("save room %s: %w", req.RoomID, err)
	}
	p.log.Debug("room saved", "room_id", req.RoomID, "request_id", req.ID, "rows", tag.RowsAffected())
	return nil
}
