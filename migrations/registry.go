package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	sessionsync "github.com/goliatone/go-session-sync"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	rootPath  = "data/sql/migrations"
	upSuffix  = ".up.sql"
	dnSuffix  = ".down.sql"
	sqliteDir = "sqlite"
)

// Source is the migration tree for one SQL dialect.
type Source struct {
	Dialect string
	Path    string
	FS      fs.FS
}

// RegisterFunc hands one dialect's migrations to a runner, usually
// go-persistence-bun's RegisterSQLMigrations.
type RegisterFunc func(ctx context.Context, src Source) error

type settings struct {
	root     fs.FS
	dialects []string
}

type Option func(*settings)

// WithRoot reads migrations from fsys instead of the embedded tree.
func WithRoot(fsys fs.FS) Option {
	return func(s *settings) {
		if fsys != nil {
			s.root = fsys
		}
	}
}

// WithDialects limits registration to the named dialects. Driver aliases
// such as sqlite3 or pg are accepted.
func WithDialects(dialects ...string) Option {
	return func(s *settings) {
		var next []string
		for _, name := range dialects {
			dialect, err := NormalizeDialect(name)
			if err != nil || containsString(next, dialect) {
				continue
			}
			next = append(next, dialect)
		}
		if len(next) > 0 {
			s.dialects = next
		}
	}
}

// NormalizeDialect maps a driver or dialect name onto DialectPostgres or
// DialectSQLite.
func NormalizeDialect(name string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "postgres", "postgresql", "pg", "pgx":
		return DialectPostgres, nil
	default:
		return "", fmt.Errorf("migrations: unsupported dialect %q", name)
	}
}

// Sources returns the postgres and sqlite migration trees under root, or
// under the embedded tree when root is nil. Every up migration must have a
// down counterpart.
func Sources(root fs.FS) ([]Source, error) {
	if root == nil {
		root = sessionsync.GetMigrationsFS()
	}
	base, basePath, err := locateBase(root)
	if err != nil {
		return nil, err
	}
	sqliteFS, err := fs.Sub(base, sqliteDir)
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve sqlite tree: %w", err)
	}

	sources := []Source{
		{Dialect: DialectPostgres, Path: basePath, FS: base},
		{Dialect: DialectSQLite, Path: joinPath(basePath, sqliteDir), FS: sqliteFS},
	}
	for _, src := range sources {
		if _, err := Versions(src); err != nil {
			return nil, err
		}
	}
	return sources, nil
}

// Versions lists the migration names in src in apply order, failing when a
// file has no partner in the other direction.
func Versions(src Source) ([]string, error) {
	ups, err := fs.Glob(src.FS, "*"+upSuffix)
	if err != nil {
		return nil, fmt.Errorf("migrations: glob %s: %w", src.Path, err)
	}
	downs, err := fs.Glob(src.FS, "*"+dnSuffix)
	if err != nil {
		return nil, fmt.Errorf("migrations: glob %s: %w", src.Path, err)
	}
	if len(ups) == 0 {
		return nil, fmt.Errorf("migrations: %s tree %q has no *%s files", src.Dialect, src.Path, upSuffix)
	}

	names := make([]string, 0, len(ups))
	for _, up := range ups {
		names = append(names, strings.TrimSuffix(up, upSuffix))
	}
	for _, down := range downs {
		name := strings.TrimSuffix(down, dnSuffix)
		if !containsString(names, name) {
			return nil, fmt.Errorf("migrations: %s down migration %q has no up migration", src.Dialect, down)
		}
	}
	for _, name := range names {
		if !containsString(downs, name+dnSuffix) {
			return nil, fmt.Errorf("migrations: %s up migration %q has no down migration", src.Dialect, name+upSuffix)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Register passes each selected dialect's source to registerFn. All dialects
// are registered unless WithDialects narrows them.
func Register(ctx context.Context, registerFn RegisterFunc, opts ...Option) ([]Source, error) {
	if registerFn == nil {
		return nil, fmt.Errorf("migrations: register function is required")
	}
	cfg := settings{dialects: []string{DialectPostgres, DialectSQLite}}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	sources, err := Sources(cfg.root)
	if err != nil {
		return nil, err
	}
	registered := make([]Source, 0, len(cfg.dialects))
	for _, src := range sources {
		if !containsString(cfg.dialects, src.Dialect) {
			continue
		}
		if err := registerFn(ctx, src); err != nil {
			return registered, fmt.Errorf("migrations: register %s (%s): %w", src.Dialect, src.Path, err)
		}
		registered = append(registered, src)
	}
	return registered, nil
}

func locateBase(root fs.FS) (fs.FS, string, error) {
	if sub, err := fs.Sub(root, rootPath); err == nil {
		if _, statErr := fs.Stat(sub, "."); statErr == nil {
			return sub, rootPath, nil
		}
	}
	// a tree that already points at the migrations directory
	if matches, err := fs.Glob(root, "*"+upSuffix); err == nil && len(matches) > 0 {
		return root, ".", nil
	}
	return nil, "", fmt.Errorf("migrations: %s not found", rootPath)
}

func containsString(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}

func joinPath(base string, suffix string) string {
	if base == "." {
		return suffix
	}
	return strings.TrimSuffix(base, "/") + "/" + suffix
}
