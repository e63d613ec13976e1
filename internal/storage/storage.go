package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrations embed.FS

const (
	dialectSQLite   = "sqlite"
	dialectPostgres = "postgres"
)

const defaultCacheSize = 256

type Store struct {
	db       *sql.DB
	dialect  string
	settings *lru.Cache[string, GuildSettings]
	gates    *lru.Cache[string, GateConfig]
}

// New opens the database named by dsn. A postgres:// or postgresql:// URL
// selects PostgreSQL through pgx; anything else is treated as a SQLite path,
// with an optional sqlite:// prefix.
func New(dsn string) (*Store, error) {
	return NewWithCache(dsn, defaultCacheSize)
}

func NewWithCache(dsn string, cacheSize int) (*Store, error) {
	driver, source, dialect := parseDSN(dsn)
	db, err := sql.Open(driver, source)
	if err != nil {
		return nil, err
	}
	if dialect == dialectSQLite {
		// One connection keeps :memory: databases alive and serializes writers.
		db.SetMaxOpenConns(1)
	}

	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	settings, err := lru.New[string, GuildSettings](cacheSize)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	gates, err := lru.New[string, GateConfig](cacheSize)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, dialect: dialect, settings: settings, gates: gates}, nil
}

func parseDSN(dsn string) (driver, source, dialect string) {
	lower := strings.ToLower(dsn)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return "pgx", dsn, dialectPostgres
	}
	return "sqlite", strings.TrimPrefix(dsn, "sqlite://"), dialectSQLite
}

func (s *Store) Close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

func (s *Store) Migrate() error {
	dir := path.Join("migrations", s.dialect)
	entries, err := migrations.ReadDir(dir)
	if err != nil {
		return err
	}

	var files []string
	for _, entry := range entries {
		files = append(files, entry.Name())
	}
	sort.Strings(files)

	for _, file := range files {
		content, err := migrations.ReadFile(path.Join(dir, file))
		if err != nil {
			return err
		}
		for _, stmt := range splitStatements(string(content)) {
			if _, err := s.db.Exec(stmt); err != nil {
				if isIgnorableMigrationError(err) {
					continue
				}
				return fmt.Errorf("migration %s failed: %w", file, err)
			}
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func splitStatements(content string) []string {
	var out []string
	for _, part := range strings.Split(content, ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func isIgnorableMigrationError(err error) bool {
	if err == nil {
		return false
	}
	message := err.Error()
	return strings.Contains(message, "duplicate column name") || strings.Contains(message, "already exists")
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
