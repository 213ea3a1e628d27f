package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is the query surface shared by *pgxpool.Pool and pgx.Tx, letting every
// repository run either directly on the pool or inside a transaction.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store aggregates repositories backed by PostgreSQL.
type Store struct {
	db   DB
	pool *pgxpool.Pool // nil when the store is transaction-scoped

	Users       UserRepository
	Groups      GroupRepository
	Locations   LocationRepository
	Spheres     SphereRepository
	Events      EventRepository
	EventTimes  EventTimeRepository
	Recurrences RecurrenceRepository
	Visits      VisitRepository
}

// New wires concrete repository implementations with a shared pool.
func New(pool *pgxpool.Pool) *Store {
	return newStore(pool, pool)
}

func newStore(db DB, pool *pgxpool.Pool) *Store {
	return &Store{
		db:          db,
		pool:        pool,
		Users:       &userRepo{db: db},
		Groups:      &groupRepo{db: db},
		Locations:   &locationRepo{db: db},
		Spheres:     &sphereRepo{db: db},
		Events:      &eventRepo{db: db},
		EventTimes:  &eventTimeRepo{db: db},
		Recurrences: &recurrenceRepo{db: db},
		Visits:      &visitRepo{db: db},
	}
}

// WithTx runs fn against a transaction-scoped Store. Any error (or panic)
// rolls the whole transaction back, so multi-row saves are all-or-nothing.
// A store that is already transaction-scoped runs fn inline.
func (s *Store) WithTx(ctx context.Context, fn func(*Store) error) error {
	if s.pool == nil {
		return fn(s)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(newStore(tx, nil)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// PurgeSoftDeleted hard-deletes events soft-deleted before the cutoff,
// children cascading, inside one transaction. Idempotent: a second run
// removes nothing.
func (s *Store) PurgeSoftDeleted(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	err := s.WithTx(ctx, func(tx *Store) error {
		var err error
		removed, err = tx.Events.PurgeDeleted(ctx, cutoff)
		return err
	})
	return removed, err
}

// HealthCheck verifies that the underlying database is reachable.
func (s *Store) HealthCheck(ctx context.Context) error {
	defer observeDB(ctx, "db.healthcheck")()
	if s.pool == nil {
		return nil
	}
	return s.pool.Ping(ctx)
}
