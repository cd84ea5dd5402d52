package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/points-ledger/internal/application/port"
	"github.com/alem-hub/points-ledger/pkg/logger"
)

// Store implements port.Store on a pgx pool.
type Store struct {
	conn *Connection
	log  *logger.Logger
}

var _ port.Store = (*Store)(nil)

// Open connects and applies pending migrations.
func Open(ctx context.Context, cfg Config, log *logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.Nop()
	}
	conn, err := NewConnection(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := NewMigrator(conn).Migrate(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return &Store{conn: conn, log: log.With(logger.Component("postgres"))}, nil
}

// NewStore wraps an existing connection without migrating.
func NewStore(conn *Connection, log *logger.Logger) *Store {
	if log == nil {
		log = logger.Nop()
	}
	return &Store{conn: conn, log: log.With(logger.Component("postgres"))}
}

// Connection returns the underlying pool wrapper.
func (s *Store) Connection() *Connection { return s.conn }

// Repositories implements port.Store.
func (s *Store) Repositories() port.Repositories {
	return repositoriesFor(s.conn.Pool())
}

func repositoriesFor(q Querier) port.Repositories {
	return port.Repositories{
		Students:     &StudentRepository{q: q},
		Ledger:       &LedgerRepository{q: q},
		Sprints:      &SprintRepository{q: q},
		Achievements: &AchievementRepository{q: q},
	}
}

// WithinTx implements port.Store.
func (s *Store) WithinTx(ctx context.Context, fn port.TxFunc) error {
	return s.conn.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(ctx, repositoriesFor(tx))
	})
}

// Ping implements port.Store.
func (s *Store) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

// Close implements port.Store.
func (s *Store) Close() error {
	s.conn.Close()
	return nil
}
