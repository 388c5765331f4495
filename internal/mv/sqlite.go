package mv

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"

	"github.com/mattn/go-sqlite3"
)

// registerSpatiaLiteDriver is grounded on the teacher's GeoPackage repository
// init(), which loads mod_spatialite through go-sqlite3's Extensions hook. A
// sync.Once keeps a second Manager for the same dialect from attempting a
// duplicate sql.Register, which panics.
var registerSpatiaLiteDriver = sync.OnceFunc(func() {
	sql.Register("sqlite3_with_extensions", &sqlite3.SQLiteDriver{
		Extensions: spatialiteLibraryPaths(),
	})
})

// spatialiteLibraryPaths returns the candidate mod_spatialite paths to try,
// environment override first, then platform-specific fallbacks.
func spatialiteLibraryPaths() []string {
	if envPath := os.Getenv("SPATIALITE_LIBRARY_PATH"); envPath != "" {
		return []string{envPath}
	}
	return []string{
		"/usr/lib/mod_spatialite.so",
		"/usr/lib/mod_spatialite.so.8",
		"/usr/lib/x86_64-linux-gnu/mod_spatialite.so",
		"/usr/lib/x86_64-linux-gnu/mod_spatialite.so.8",
		"/usr/lib/aarch64-linux-gnu/mod_spatialite.so",
		"/usr/lib/aarch64-linux-gnu/mod_spatialite.so.8",
		"/usr/local/lib/mod_spatialite.dylib",
		"/opt/homebrew/lib/mod_spatialite.dylib",
		"mod_spatialite.so",
		"mod_spatialite",
		"mod_spatialite.dylib",
	}
}

// OpenSpatiaLite opens path (a SpatiaLite/GeoPackage-compatible sqlite file,
// or ":memory:") through the extension-loading driver and verifies the
// extension actually loaded, the same verify-by-querying-the-version-function
// check the teacher's Repository.loadSpatiaLite performs.
func OpenSpatiaLite(ctx context.Context, path string) (*sql.DB, error) {
	registerSpatiaLiteDriver()

	dsn := fmt.Sprintf("file:%s?cache=shared", path)
	db, err := sql.Open("sqlite3_with_extensions", dsn)
	if err != nil {
		return nil, fmt.Errorf("mv: opening spatialite database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mv: connecting to spatialite database: %w", err)
	}

	var version string
	if err := db.QueryRowContext(ctx, "SELECT spatialite_version()").Scan(&version); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mv: spatialite extension not available: %w", err)
	}

	return db, nil
}
