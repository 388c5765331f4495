// Package history tracks the append-only per-(project,layer) subset-string
// history (spec §4.12). It follows the teacher's registry lifecycle-tracking
// shape — an RWMutex-guarded in-memory map keyed by identity, status
// transitions recorded synchronously — generalized from package load/unload
// status to an ever-growing append log instead of a replace-in-place entry.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/filtergeist/filtergeist/internal/domain"
)

// DB is the narrow database/sql surface SQLStore needs; *sql.DB and *sql.Tx
// both satisfy it (mirrors internal/mv.DB).
type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Store persists HistoryEntry rows. A real implementation backs this with
// the host project's database table; Log is a drop-in in-memory store
// usable standalone or as the backing store under a persistent adapter.
type Store interface {
	Append(ctx context.Context, entry domain.HistoryEntry) error
	List(ctx context.Context, projectUUID, layerID string) ([]domain.HistoryEntry, error)
	Latest(ctx context.Context, projectUUID, layerID string) (domain.HistoryEntry, bool, error)
	PopLast(ctx context.Context, projectUUID, layerID string) (domain.HistoryEntry, bool, error)
	DeleteAll(ctx context.Context, projectUUID, layerID string) error
}

// Log is an in-memory Store, append-only per (project, layer) key, guarded
// by a single mutex the way the teacher guards its package map. Appends are
// serialized so concurrent subset applications on different layers never
// interleave within one layer's sequence numbering.
type Log struct {
	mu      sync.Mutex
	entries map[string][]domain.HistoryEntry
	nextID  int
}

// NewLog builds an empty in-memory history log.
func NewLog() *Log {
	return &Log{entries: make(map[string][]domain.HistoryEntry)}
}

func key(projectUUID, layerID string) string {
	return projectUUID + "\x00" + layerID
}

// Append adds entry to its (ProjectUUID, LayerID) sequence, assigning
// SeqOrder and an ID if unset. Safe for concurrent use across distinct keys
// and serializes same-key appends so SeqOrder never collides (spec §4.12
// Open Question: serialize Append under the store mutex).
func (l *Log) Append(_ context.Context, entry domain.HistoryEntry) error {
	if entry.ProjectUUID == "" || entry.LayerID == "" {
		return fmt.Errorf("history: entry requires ProjectUUID and LayerID")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	k := key(entry.ProjectUUID, entry.LayerID)
	existing := l.entries[k]

	entry.SeqOrder = len(existing) + 1
	if entry.ID == "" {
		l.nextID++
		entry.ID = fmt.Sprintf("hist-%d", l.nextID)
	}

	l.entries[k] = append(existing, entry)
	return nil
}

// List returns the full ordered history for a (project, layer) pair, oldest
// first. The returned slice is a copy; mutating it does not affect the log.
func (l *Log) List(_ context.Context, projectUUID, layerID string) ([]domain.HistoryEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing := l.entries[key(projectUUID, layerID)]
	out := make([]domain.HistoryEntry, len(existing))
	copy(out, existing)
	return out, nil
}

// Latest returns the most recent entry for a (project, layer) pair, or false
// if none exists — the subset string to restore on undo-to-source, or to
// compare against when deciding whether a new request is a no-op.
func (l *Log) Latest(_ context.Context, projectUUID, layerID string) (domain.HistoryEntry, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing := l.entries[key(projectUUID, layerID)]
	if len(existing) == 0 {
		return domain.HistoryEntry{}, false, nil
	}
	return existing[len(existing)-1], true, nil
}

// PopLast removes and returns the tail entry for a (project, layer) pair
// (spec §4.12 pop_last, used to undo the most recently recorded subset).
func (l *Log) PopLast(_ context.Context, projectUUID, layerID string) (domain.HistoryEntry, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := key(projectUUID, layerID)
	existing := l.entries[k]
	if len(existing) == 0 {
		return domain.HistoryEntry{}, false, nil
	}

	last := existing[len(existing)-1]
	l.entries[k] = existing[:len(existing)-1]
	return last, true, nil
}

// DeleteAll drops the entire recorded sequence for a (project, layer) pair
// (spec §4.12 delete_all, the history side of action=reset).
func (l *Log) DeleteAll(_ context.Context, projectUUID, layerID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.entries, key(projectUUID, layerID))
	return nil
}

// SQLStore persists HistoryEntry rows to the host project's own database
// (spec §4.12's "real implementation backs this with the host project's
// database table"), against a `history_entries(project_uuid, layer_id, id,
// seq_order, source_layer_id, subset_string, ts) table the host provisions.
// SeqOrder is assigned the same way Log assigns it: one past the current max
// for the (project, layer) key, computed under the same query that inserts.
type SQLStore struct {
	db DB
}

// NewSQLStore wraps db as a Store.
func NewSQLStore(db DB) *SQLStore {
	return &SQLStore{db: db}
}

// Append inserts entry, assigning SeqOrder and an ID if unset. On a
// transient connection failure the insert is retried once transparently
// (spec §7, DatabaseTransientError: "retry once ... in C12 (history log)");
// if the retry also fails, the error is returned for per-target critical
// reporting.
func (s *SQLStore) Append(ctx context.Context, entry domain.HistoryEntry) error {
	if entry.ProjectUUID == "" || entry.LayerID == "" {
		return fmt.Errorf("history: entry requires ProjectUUID and LayerID")
	}

	const stmt = `
		INSERT INTO history_entries (id, project_uuid, layer_id, source_layer_id, seq_order, subset_string, ts)
		SELECT $1, $2, $3, $4,
			COALESCE((SELECT MAX(seq_order) FROM history_entries WHERE project_uuid = $2 AND layer_id = $3), 0) + 1,
			$5, $6`

	id := entry.ID
	if id == "" {
		id = uuid.NewString()
	}

	exec := func() error {
		_, err := s.db.ExecContext(ctx, stmt, id, entry.ProjectUUID, entry.LayerID, entry.SourceLayerID, entry.SubsetString, entry.Timestamp)
		return err
	}

	if err := exec(); err != nil {
		if err := exec(); err != nil {
			return &domain.DatabaseTransientError{Operation: "append history entry", Err: err, Retried: true}
		}
	}
	return nil
}

// List returns the full ordered history for a (project, layer) pair, oldest
// first.
func (s *SQLStore) List(ctx context.Context, projectUUID, layerID string) ([]domain.HistoryEntry, error) {
	const q = `
		SELECT id, ts, project_uuid, layer_id, source_layer_id, seq_order, subset_string
		FROM history_entries WHERE project_uuid = $1 AND layer_id = $2 ORDER BY seq_order ASC`

	rows, err := s.db.QueryContext(ctx, q, projectUUID, layerID)
	if err != nil {
		return nil, fmt.Errorf("history: listing entries: %w", err)
	}
	defer rows.Close()

	var out []domain.HistoryEntry
	for rows.Next() {
		var e domain.HistoryEntry
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.ProjectUUID, &e.LayerID, &e.SourceLayerID, &e.SeqOrder, &e.SubsetString); err != nil {
			return nil, fmt.Errorf("history: scanning entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Latest returns the most recent entry for a (project, layer) pair, or false
// if none exists.
func (s *SQLStore) Latest(ctx context.Context, projectUUID, layerID string) (domain.HistoryEntry, bool, error) {
	entries, err := s.List(ctx, projectUUID, layerID)
	if err != nil {
		return domain.HistoryEntry{}, false, err
	}
	if len(entries) == 0 {
		return domain.HistoryEntry{}, false, nil
	}
	return entries[len(entries)-1], true, nil
}

// PopLast removes and returns the tail entry for a (project, layer) pair.
func (s *SQLStore) PopLast(ctx context.Context, projectUUID, layerID string) (domain.HistoryEntry, bool, error) {
	last, ok, err := s.Latest(ctx, projectUUID, layerID)
	if err != nil || !ok {
		return domain.HistoryEntry{}, ok, err
	}
	const stmt = `DELETE FROM history_entries WHERE project_uuid = $1 AND layer_id = $2 AND id = $3`
	if _, err := s.db.ExecContext(ctx, stmt, projectUUID, layerID, last.ID); err != nil {
		return domain.HistoryEntry{}, false, fmt.Errorf("history: popping last entry: %w", err)
	}
	return last, true, nil
}

// DeleteAll drops the entire recorded sequence for a (project, layer) pair.
func (s *SQLStore) DeleteAll(ctx context.Context, projectUUID, layerID string) error {
	const stmt = `DELETE FROM history_entries WHERE project_uuid = $1 AND layer_id = $2`
	if _, err := s.db.ExecContext(ctx, stmt, projectUUID, layerID); err != nil {
		return fmt.Errorf("history: deleting entries: %w", err)
	}
	return nil
}
