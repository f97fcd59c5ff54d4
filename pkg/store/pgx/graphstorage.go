// Package pgx stores the knowledge graph in PostgreSQL. Embeddings are kept
// in pgvector columns and similarity search runs in the database.
package pgx

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

// defaultLockID is the advisory lock taken by every write transaction.
const defaultLockID int64 = 0x6b697769

type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	SendBatch(ctx context.Context, b *pgxv5.Batch) pgxv5.BatchResults
}

type pgxIConn interface {
	querier
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

// GraphDBStorage implements store.GraphStorage on PostgreSQL with pgvector.
//
// Writers are serialized across processes by a transaction scoped advisory
// lock, so several workers may share one database. Readers use plain
// statements and never see uncommitted updates.
type GraphDBStorage struct {
	reader
	conn   pgxIConn
	lockID int64
}

var _ store.GraphStorage = (*GraphDBStorage)(nil)

type GraphDBStorageOption func(*GraphDBStorage)

// WithLockID overrides the advisory lock id. Stores sharing a database but
// holding different graphs can use different ids.
func WithLockID(id int64) GraphDBStorageOption {
	return func(s *GraphDBStorage) {
		s.lockID = id
	}
}

// NewGraphDBStorageWithConnection creates a GraphDBStorage on an existing
// connection or pool. The schema must already be migrated.
func NewGraphDBStorageWithConnection(conn pgxIConn, opts ...GraphDBStorageOption) *GraphDBStorage {
	s := &GraphDBStorage{
		reader: reader{q: conn},
		conn:   conn,
		lockID: defaultLockID,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s
}

// NewPool opens a connection pool with the pgvector types registered on
// every connection.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgxv5.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	return pool, nil
}

// Update runs fn inside a database transaction holding the store's advisory
// lock. The transaction is rolled back if fn fails.
func (s *GraphDBStorage) Update(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", s.lockID); err != nil {
		return fmt.Errorf("failed to lock graph: %w", err)
	}

	if err := fn(&graphTx{reader: reader{q: tx}}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// graphTx is the store.Tx handed to Update callbacks. Its reads go through
// the same transaction, so they observe its writes.
type graphTx struct {
	reader
}

var _ store.Tx = (*graphTx)(nil)
