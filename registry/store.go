// Package registry persists the cluster member table: one row per node with
// its connection address, role flags and a stable sequence number. All
// mutations run in short transactions on a single write connection so that
// concurrent mutator processes serialize at the storage layer.
package registry

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/pgkeeper/pgkeeper/engine"

	_ "github.com/mattn/go-sqlite3"
)

var dialect = goqu.Dialect("sqlite3")

// Node is one cluster member. Seqno is assigned once at insert and never
// reused, so it stays a safe identity across renames.
type Node struct {
	Seqno    int64  `json:"seqno"`
	Name     string `json:"name"`
	Conninfo string `json:"conninfo"`
	IsMaster bool   `json:"is_master"`
	IsSync   bool   `json:"is_sync"`
}

// nodesSchema: the unique-master invariant is application logic, not a
// storage constraint; AUTOINCREMENT keeps deleted seqnos from being reused.
const nodesSchema = `
CREATE TABLE IF NOT EXISTS nodes (
	seqno     INTEGER PRIMARY KEY AUTOINCREMENT,
	name      TEXT NOT NULL UNIQUE,
	conninfo  TEXT NOT NULL,
	is_master INTEGER NOT NULL DEFAULT 0,
	is_sync   INTEGER NOT NULL DEFAULT 0
)`

// Store is the SQLite-backed node registry.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the registry database. A single write
// connection with immediate transaction locking serializes concurrent
// mutators: two AddNode callers cannot both observe an empty registry.
func Open(path string) (*Store, error) {
	dsn := path
	if !strings.Contains(path, ":memory:") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(nodesSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create registry schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ListNodes returns members ordered by seqno ascending. With includeMaster
// false the master row is filtered out, leaving only standbys.
func (s *Store) ListNodes(ctx context.Context, includeMaster bool) ([]Node, error) {
	ds := dialect.From("nodes").
		Select("seqno", "name", "conninfo", "is_master", "is_sync").
		Order(goqu.C("seqno").Asc())
	if !includeMaster {
		ds = ds.Where(goqu.C("is_master").Eq(0))
	}

	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build list query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	defer rows.Close()

	var nodes []Node
	for rows.Next() {
		var n Node
		if err := rows.Scan(&n.Seqno, &n.Name, &n.Conninfo, &n.IsMaster, &n.IsSync); err != nil {
			return nil, fmt.Errorf("failed to scan node row: %w", err)
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// MasterNode returns the current master row, or nil when the registry holds
// none (legal transiently during promotion).
func (s *Store) MasterNode(ctx context.Context) (*Node, error) {
	query, args, err := dialect.From("nodes").
		Select("seqno", "name", "conninfo", "is_master", "is_sync").
		Where(goqu.C("is_master").Eq(1)).
		Order(goqu.C("seqno").Asc()).
		Limit(1).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build master query: %w", err)
	}

	var n Node
	err = s.db.QueryRowContext(ctx, query, args...).
		Scan(&n.Seqno, &n.Name, &n.Conninfo, &n.IsMaster, &n.IsSync)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read master row: %w", err)
	}
	return &n, nil
}

// Count returns the number of registered nodes.
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM nodes").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count nodes: %w", err)
	}
	return count, nil
}

// insert adds a row with explicit role flags and returns it with its freshly
// allocated seqno. Registration goes through insertFirstWins; this exists for
// callers that already know the flags.
func (s *Store) insert(ctx context.Context, name, conninfo string, isMaster, isSync bool) (*Node, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin insert tx: %w", err)
	}
	defer tx.Rollback()

	node, err := insertInTx(ctx, tx, name, conninfo, isMaster, isSync)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit insert: %w", err)
	}
	return node, nil
}

// insertFirstWins derives the role flags and inserts inside one immediate
// transaction: the count and the insert commit atomically, so two mutator
// processes racing on an empty registry serialize at the storage layer and
// only the first committer self-assigns master. The loser's count runs
// after the winner's commit and observes the winner's row.
func (s *Store) insertFirstWins(ctx context.Context, name, conninfo string, syncNames []string) (*Node, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin insert tx: %w", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM nodes").Scan(&count); err != nil {
		return nil, fmt.Errorf("failed to count nodes: %w", err)
	}
	isMaster := count == 0
	isSync := !isMaster && engine.MatchesSyncNames(syncNames, name)

	node, err := insertInTx(ctx, tx, name, conninfo, isMaster, isSync)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit insert: %w", err)
	}
	return node, nil
}

func insertInTx(ctx context.Context, tx *sql.Tx, name, conninfo string, isMaster, isSync bool) (*Node, error) {
	query, args, err := dialect.Insert("nodes").Rows(goqu.Record{
		"name":      name,
		"conninfo":  conninfo,
		"is_master": boolToInt(isMaster),
		"is_sync":   boolToInt(isSync),
	}).Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build insert: %w", err)
	}

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to insert node %q: %w", name, err)
	}
	seqno, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read new seqno: %w", err)
	}

	return &Node{
		Seqno:    seqno,
		Name:     name,
		Conninfo: conninfo,
		IsMaster: isMaster,
		IsSync:   isSync,
	}, nil
}

// DeleteByName removes the named node. Returns false when no row matched.
func (s *Store) DeleteByName(ctx context.Context, name string) (bool, error) {
	return s.deleteWhere(ctx, goqu.C("name").Eq(name))
}

// DeleteBySeqno removes the node with the given sequence number. Returns
// false when no row matched, leaving the registry unchanged.
func (s *Store) DeleteBySeqno(ctx context.Context, seqno int64) (bool, error) {
	return s.deleteWhere(ctx, goqu.C("seqno").Eq(seqno))
}

func (s *Store) deleteWhere(ctx context.Context, cond goqu.Expression) (bool, error) {
	query, args, err := dialect.Delete("nodes").Where(cond).Prepared(true).ToSQL()
	if err != nil {
		return false, fmt.Errorf("failed to build delete: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin delete tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to delete node: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read delete result: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit delete: %w", err)
	}
	return affected > 0, nil
}

// SetMaster clears every is_master flag and claims it for the named row if
// one exists. A registry with zero master rows afterwards is the documented
// transient state during promotion handoff.
func (s *Store) SetMaster(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin master handoff tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "UPDATE nodes SET is_master = 0 WHERE is_master = 1"); err != nil {
		return fmt.Errorf("failed to demote master rows: %w", err)
	}

	query, args, err := dialect.Update("nodes").
		Set(goqu.Record{"is_master": 1, "is_sync": 0}).
		Where(goqu.C("name").Eq(name)).
		Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("failed to build master claim: %w", err)
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to claim master row: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		log.Warn().Str("name", name).Msg("No registry row to claim master; registry holds zero masters")
	}

	return tx.Commit()
}

// ApplySyncMembership reconciles is_sync flags against the live ordered
// member-name list, in one transaction. A master row is never sync and no
// node is invented for unmatched list entries. Returns the number of rows
// actually rewritten; running it twice with no intervening change writes
// nothing the second time. With dryRun the changes are computed only.
func (s *Store) ApplySyncMembership(ctx context.Context, names []string, dryRun bool) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin reconcile tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, "SELECT seqno, name, is_master, is_sync FROM nodes ORDER BY seqno")
	if err != nil {
		return 0, fmt.Errorf("failed to scan registry: %w", err)
	}

	type change struct {
		seqno  int64
		isSync bool
	}
	var changes []change
	for rows.Next() {
		var (
			seqno            int64
			name             string
			isMaster, isSync bool
		)
		if err := rows.Scan(&seqno, &name, &isMaster, &isSync); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan node row: %w", err)
		}
		desired := !isMaster && engine.MatchesSyncNames(names, name)
		if desired != isSync {
			changes = append(changes, change{seqno: seqno, isSync: desired})
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	if dryRun {
		return len(changes), nil
	}

	for _, c := range changes {
		if _, err := tx.ExecContext(ctx,
			"UPDATE nodes SET is_sync = ? WHERE seqno = ?", boolToInt(c.isSync), c.seqno); err != nil {
			return 0, fmt.Errorf("failed to update sync flag for seqno %d: %w", c.seqno, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit reconcile: %w", err)
	}
	return len(changes), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
