// Package mv manages session-scoped materialized views that cache an
// expensive source selection or filter chain result (spec §4.8). It talks to
// PostgreSQL through jackc/pgx/v5's database/sql driver and to SpatiaLite
// through mattn/go-sqlite3, both via the standard database/sql interface —
// the same connection idiom the teacher's geopackage.Repository uses for its
// SpatiaLite path, generalized here to also cover a PostgreSQL connection.
package mv

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	"github.com/filtergeist/filtergeist/internal/domain"
)

// DB is the narrow database/sql surface the manager needs; both
// *sql.DB and *sql.Tx satisfy it.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Manager ensures, reuses and garbage-collects materialized views for one
// dialect. PostgreSQL views live as real CREATE MATERIALIZED VIEW objects;
// SpatiaLite has no materialized-view support, so the SpatiaLite manager
// creates an ordinary temp table populated once; no spatial index is built
// on it.
type Manager struct {
	db      DB
	dialect domain.Dialect
	schema  string
}

// NewManager builds a Manager for dialect against db. schema defaults to
// domain.DefaultTempSchema; PostgreSQL callers should fall back to
// domain.PublicFallbackSchema once per session if schema creation is denied
// (spec §4.8).
func NewManager(db DB, dialect domain.Dialect, schema string) *Manager {
	if schema == "" {
		schema = domain.DefaultTempSchema
	}
	return &Manager{db: db, dialect: dialect, schema: schema}
}

// EnsureSchema creates the manager's temp schema if it doesn't already
// exist. No-op for SpatiaLite, which has no schema concept.
func (m *Manager) EnsureSchema(ctx context.Context) error {
	if m.dialect != domain.DialectPostgreSQL {
		return nil
	}
	_, err := m.db.ExecContext(ctx, fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, quoteIdent(m.schema)))
	if err != nil {
		return &domain.DatabaseTransientError{Operation: "create temp schema", Err: err}
	}
	return nil
}

// SourceSelection ensures a materialized view/table holding pk (and
// optionally a buffered geometry) for the given feature IDs exists, reusing
// it if one with the same content hash is already present (spec §4.8
// "ensure"). Returns the resulting MaterializedView descriptor.
func (m *Manager) SourceSelection(ctx context.Context, sessionID string, fids []int64, pkColumn, sourceTable, geomColumn string, buffer *domain.BufferParams, useCentroid bool) (*domain.MaterializedView, error) {
	bufferParams := ""
	if buffer != nil {
		bufferParams = fmt.Sprintf("%g|%d|%s", buffer.Distance, buffer.Segments, buffer.EndCap)
	}
	contentHash := domain.ContentHash(fids, bufferParams, useCentroid)
	kind := domain.MVKindSourceSelection
	if buffer != nil {
		kind = domain.MVKindBufferedSource
	}
	name := domain.MVName(kind, sessionID, contentHash)

	exists, err := m.exists(ctx, name)
	if err != nil {
		return nil, err
	}
	mv := &domain.MaterializedView{
		Schema:      m.schema,
		Name:        name,
		Kind:        kind,
		ContentHash: contentHash,
		SessionID:   sessionID,
		CreatedAt:   time.Now(),
	}
	if exists {
		return mv, nil
	}

	selectSQL := buildSourceSelectionQuery(m.dialect, pkColumn, sourceTable, geomColumn, buffer, useCentroid, fids)
	geomAlias := ""
	if geomColumn != "" {
		geomAlias = "geom"
	}
	if err := m.create(ctx, name, selectSQL, geomAlias); err != nil {
		return nil, err
	}
	return mv, nil
}

// FilterChain ensures a view/table materializing chainExpression's result
// over sourceTable exists, reusing a same-hash one if present (spec §4.8
// filter-chain MV, used when the Multi-step Planner's spatial step produces
// a result other steps filter further).
func (m *Manager) FilterChain(ctx context.Context, sessionID, contentHash, pkColumn, sourceTable, chainExpression string) (*domain.MaterializedView, error) {
	name := domain.MVName(domain.MVKindFilterChain, sessionID, contentHash)
	exists, err := m.exists(ctx, name)
	if err != nil {
		return nil, err
	}
	mv := &domain.MaterializedView{
		Schema:      m.schema,
		Name:        name,
		Kind:        domain.MVKindFilterChain,
		ContentHash: contentHash,
		SessionID:   sessionID,
		CreatedAt:   time.Now(),
	}
	if exists {
		return mv, nil
	}

	selectSQL := fmt.Sprintf("SELECT %s FROM %s WHERE %s", quoteIdent(pkColumn), quoteIdent(sourceTable), chainExpression)
	if err := m.create(ctx, name, selectSQL, ""); err != nil {
		return nil, err
	}
	return mv, nil
}

// Ensure creates the view/table described by descriptor (using selectSQL) if
// one doesn't already exist at that exact name. Used when a MaterializedView
// descriptor was computed elsewhere — the optimizer's SOURCE_MV rewrite
// (internal/filter/optimize) names the view from a FID-list content hash
// independently of SourceSelection/FilterChain's own naming, so the
// orchestrator needs a way to materialize exactly that descriptor.
func (m *Manager) Ensure(ctx context.Context, descriptor *domain.MaterializedView, selectSQL string) error {
	exists, err := m.exists(ctx, descriptor.Name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	geomAlias := ""
	if descriptor.Kind == domain.MVKindSourceSelection || descriptor.Kind == domain.MVKindBufferedSource {
		geomAlias = "geom"
	}
	return m.create(ctx, descriptor.Name, selectSQL, geomAlias)
}

// BuildSourceSelectionSQL exposes the SELECT this manager would run for a
// source selection, for callers that already hold a MaterializedView
// descriptor computed elsewhere and only need matching SQL to materialize it
// via Ensure.
func (m *Manager) BuildSourceSelectionSQL(pkColumn, sourceTable, geomColumn string, buffer *domain.BufferParams, useCentroid bool, fids []int64) string {
	return buildSourceSelectionQuery(m.dialect, pkColumn, sourceTable, geomColumn, buffer, useCentroid, fids)
}

// create materializes selectSQL under name (spec §4.8 "ensure"). For
// PostgreSQL this is CREATE MATERIALIZED VIEW IF NOT EXISTS, followed by a
// GIST index on geomAlias (the column buildSourceSelectionQuery aliases the
// geometry expression to) when one is present, followed by ANALYZE.
// SpatiaLite has no materialized-view or ANALYZE equivalent, so it only gets
// the CREATE TEMP TABLE.
func (m *Manager) create(ctx context.Context, name, selectSQL, geomAlias string) error {
	qualified := m.qualified(name)
	switch m.dialect {
	case domain.DialectPostgreSQL:
		stmt := fmt.Sprintf("CREATE MATERIALIZED VIEW IF NOT EXISTS %s AS %s", qualified, selectSQL)
		if err := m.execWithRetry(ctx, "create materialized view", stmt); err != nil {
			return err
		}
		if geomAlias != "" {
			indexStmt := fmt.Sprintf(
				"CREATE INDEX IF NOT EXISTS %s ON %s USING GIST (%s)",
				quoteIdent(name+"_geom_idx"), qualified, quoteIdent(geomAlias),
			)
			if err := m.execWithRetry(ctx, "create spatial index", indexStmt); err != nil {
				return err
			}
		}
		return m.execWithRetry(ctx, "analyze materialized view", fmt.Sprintf("ANALYZE %s", qualified))
	case domain.DialectSpatiaLite:
		stmt := fmt.Sprintf("CREATE TEMP TABLE IF NOT EXISTS %s AS %s", quoteIdent(name), selectSQL)
		return m.execWithRetry(ctx, "create temp table", stmt)
	default:
		return fmt.Errorf("mv: unsupported dialect %q", m.dialect)
	}
}

// execWithRetry runs stmt and, if it fails, reconnects once and retries
// transparently before giving up (spec §4.8 "on transient connection
// failure, reconnect once and retry"; spec §7 DatabaseTransientError). The
// underlying database/sql pool handles the actual reconnection on the next
// Exec, so "reconnect" here means simply trying the statement again.
func (m *Manager) execWithRetry(ctx context.Context, operation, stmt string) error {
	if _, err := m.db.ExecContext(ctx, stmt); err == nil {
		return nil
	}
	if _, err := m.db.ExecContext(ctx, stmt); err != nil {
		return &domain.DatabaseTransientError{Operation: operation, Err: err, Retried: true}
	}
	return nil
}

func (m *Manager) exists(ctx context.Context, name string) (bool, error) {
	var query string
	var args []any
	switch m.dialect {
	case domain.DialectPostgreSQL:
		query = `SELECT COUNT(*) FROM pg_matviews WHERE schemaname = $1 AND matviewname = $2`
		args = []any{m.schema, name}
	case domain.DialectSpatiaLite:
		query = `SELECT COUNT(*) FROM sqlite_temp_master WHERE type='table' AND name=?`
		args = []any{name}
	default:
		return false, fmt.Errorf("mv: unsupported dialect %q", m.dialect)
	}

	var count int
	if err := m.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return false, &domain.DatabaseTransientError{Operation: "check existing materialized view", Err: err}
	}
	return count > 0, nil
}

// DropSession drops every view/table belonging to sessionID, e.g. when a
// QGIS project closes (spec §4.8 "drop session").
func (m *Manager) DropSession(ctx context.Context, sessionID string) error {
	names, err := m.listSessionViews(ctx, sessionID)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := m.drop(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// DropOrphans drops views whose session is no longer live and that are
// older than maxAge (spec §4.8 "drop orphans"). liveSessions should list
// every session ID currently known to the host, in the host's own (unhashed)
// form — DropOrphans hashes them before comparing against the views' stored
// session hashes, since a view's real session ID cannot be recovered from
// its name.
func (m *Manager) DropOrphans(ctx context.Context, liveSessions map[string]bool, maxAge time.Duration) error {
	views, err := m.listAllViews(ctx)
	if err != nil {
		return err
	}
	liveHashes := make(map[string]bool, len(liveSessions))
	for id, live := range liveSessions {
		if live {
			liveHashes[domain.SessionHash(id)] = true
		}
	}
	now := time.Now()
	for _, v := range views {
		if v.IsOrphan(liveHashes, maxAge, now) {
			if err := m.drop(ctx, v.Name); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Manager) drop(ctx context.Context, name string) error {
	var stmt string
	switch m.dialect {
	case domain.DialectPostgreSQL:
		stmt = fmt.Sprintf("DROP MATERIALIZED VIEW IF EXISTS %s", m.qualified(name))
	case domain.DialectSpatiaLite:
		stmt = fmt.Sprintf("DROP TABLE IF EXISTS %s", quoteIdent(name))
	default:
		return fmt.Errorf("mv: unsupported dialect %q", m.dialect)
	}
	if _, err := m.db.ExecContext(ctx, stmt); err != nil {
		return &domain.DatabaseTransientError{Operation: "drop materialized view", Err: err}
	}
	return nil
}

func (m *Manager) listSessionViews(ctx context.Context, sessionID string) ([]string, error) {
	all, err := m.listAllViews(ctx)
	if err != nil {
		return nil, err
	}
	want := domain.SessionHash(sessionID)
	var names []string
	for _, v := range all {
		if v.SessionID == want {
			names = append(names, v.Name)
		}
	}
	return names, nil
}

// mvNamePattern parses fm_temp_(source|buffered|filter_chain|mv)_<8hex>_<8hex>
// (spec §6), capturing the session hash so listAllViews can populate
// MaterializedView.SessionID without ever seeing the real session ID.
var mvNamePattern = regexp.MustCompile(`^fm_temp_(?:source|buffered|filter_chain|mv)_([0-9a-f]{8})_[0-9a-f]{8}$`)

// listAllViews enumerates every fm_temp_* view/table this manager owns. A
// view's name only carries the session ID's hash, never the ID itself, so
// SessionID here is that hash — compare against domain.SessionHash(candidate),
// never against a raw session ID.
func (m *Manager) listAllViews(ctx context.Context) ([]domain.MaterializedView, error) {
	var query string
	var args []any
	switch m.dialect {
	case domain.DialectPostgreSQL:
		query = `SELECT matviewname FROM pg_matviews WHERE schemaname = $1 AND matviewname LIKE 'fm_temp_%'`
		args = []any{m.schema}
	case domain.DialectSpatiaLite:
		query = `SELECT name FROM sqlite_temp_master WHERE type='table' AND name LIKE 'fm_temp_%'`
	default:
		return nil, fmt.Errorf("mv: unsupported dialect %q", m.dialect)
	}

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &domain.DatabaseTransientError{Operation: "list materialized views", Err: err}
	}
	defer rows.Close()

	var out []domain.MaterializedView
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		mview := domain.MaterializedView{Schema: m.schema, Name: name}
		if match := mvNamePattern.FindStringSubmatch(name); match != nil {
			mview.SessionID = match[1]
		}
		out = append(out, mview)
	}
	return out, rows.Err()
}

func buildSourceSelectionQuery(dialect domain.Dialect, pkColumn, sourceTable, geomColumn string, buffer *domain.BufferParams, useCentroid bool, fids []int64) string {
	geomExpr := quoteIdent(geomColumn)
	if useCentroid {
		geomExpr = centroidFunc(dialect) + "(" + geomExpr + ")"
	}
	if buffer != nil {
		geomExpr = bufferFunc(dialect, geomExpr, *buffer)
	}

	idList := make([]string, len(fids))
	for i, id := range fids {
		idList[i] = fmt.Sprintf("%d", id)
	}
	inClause := "(" + joinInts(idList) + ")"

	return fmt.Sprintf(
		"SELECT %s AS %s, %s AS geom FROM %s WHERE %s IN %s",
		quoteIdent(pkColumn), quoteIdent(pkColumn), geomExpr, quoteIdent(sourceTable), quoteIdent(pkColumn), inClause,
	)
}

func centroidFunc(dialect domain.Dialect) string {
	if dialect == domain.DialectPostgreSQL {
		return "ST_Centroid"
	}
	return "Centroid"
}

func bufferFunc(dialect domain.Dialect, geomExpr string, b domain.BufferParams) string {
	if dialect == domain.DialectPostgreSQL {
		return fmt.Sprintf("ST_Buffer(%s, %g)", geomExpr, b.Distance)
	}
	return fmt.Sprintf("Buffer(%s, %g)", geomExpr, b.Distance)
}

func joinInts(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ","
		}
		out += p
	}
	return out
}

func (m *Manager) qualified(name string) string {
	return quoteIdent(m.schema) + "." + quoteIdent(name)
}

func quoteIdent(s string) string {
	return `"` + s + `"`
}
