package graph

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is the durable local view of the graph, backed by SQLite.
// If path is ":memory:", an in-memory database is created.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a graph database at the given path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS nodes (
			parent TEXT NOT NULL,
			key TEXT NOT NULL,
			value BLOB,
			deleted INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (parent, key)
		);

		CREATE INDEX IF NOT EXISTS idx_nodes_parent ON nodes(parent);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Public(owner string) Node {
	return &sqliteNode{store: s, path: PublicRoot(owner)}
}

func (s *SQLiteStore) Private(owner string) Node {
	return &sqliteNode{store: s, path: PrivateRoot(owner)}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type sqliteNode struct {
	store *SQLiteStore
	path  []string
}

func (n *sqliteNode) Get(segment string) Node {
	child := make([]string, 0, len(n.path)+1)
	child = append(child, n.path...)
	child = append(child, segment)
	return &sqliteNode{store: n.store, path: child}
}

func (n *sqliteNode) Path() []string {
	out := make([]string, len(n.path))
	copy(out, n.path)
	return out
}

// parentAndKey splits the node address into its parent's flattened path
// and its own key within that parent.
func (n *sqliteNode) parentAndKey() (string, string) {
	parent := JoinPath(n.path[:len(n.path)-1])
	key := n.path[len(n.path)-1]
	return parent, key
}

func (n *sqliteNode) Put(ctx context.Context, value []byte) error {
	if len(n.path) < 2 {
		return fmt.Errorf("graph: cannot put at namespace root")
	}
	parent, key := n.parentAndKey()

	deleted := 0
	if value == nil {
		deleted = 1
	}

	_, err := n.store.db.ExecContext(ctx, `
		INSERT INTO nodes (parent, key, value, deleted)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(parent, key) DO UPDATE SET
			value = excluded.value,
			deleted = excluded.deleted
	`, parent, key, value, deleted)
	if err != nil {
		return fmt.Errorf("failed to put node: %w", err)
	}
	return nil
}

func (n *sqliteNode) Once(ctx context.Context) ([]byte, error) {
	if len(n.path) < 2 {
		return nil, ErrNotFound
	}
	parent, key := n.parentAndKey()

	var value []byte
	var deleted int
	err := n.store.db.QueryRowContext(ctx, `
		SELECT value, deleted FROM nodes WHERE parent = ? AND key = ?
	`, parent, key).Scan(&value, &deleted)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read node: %w", err)
	}
	if deleted != 0 {
		return nil, ErrNotFound
	}
	return value, nil
}

func (n *sqliteNode) Map(ctx context.Context, fn func(key string, value []byte) error) error {
	self := JoinPath(n.path)

	rows, err := n.store.db.QueryContext(ctx, `
		SELECT key, value FROM nodes WHERE parent = ? AND deleted = 0
	`, self)
	if err != nil {
		return fmt.Errorf("failed to iterate children: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return fmt.Errorf("failed to scan child: %w", err)
		}
		if err := fn(key, value); err != nil {
			return err
		}
	}
	return rows.Err()
}
