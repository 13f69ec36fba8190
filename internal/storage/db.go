package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/petervdpas/tandem/internal/chat"
	"github.com/petervdpas/tandem/internal/storage/migrations"
)

var log = logging.Logger("storage")

// goose keeps its base FS and dialect in package globals.
var gooseMu sync.Mutex

// Dialect names the SQL backend behind a DB.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// DB is the durable message store. SQLite is the default backend;
// postgres:// DSNs use pgx.
type DB struct {
	db      *sql.DB
	dialect Dialect
	dsn     string
}

// Open connects to dsn and applies pending migrations. A DSN without a
// postgres scheme is treated as a SQLite file path; its directory is
// created if missing.
func Open(ctx context.Context, dsn string) (*DB, error) {
	d := &DB{dsn: dsn}
	var err error

	if IsPostgres(dsn) {
		d.dialect = DialectPostgres
		d.db, err = sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
	} else {
		d.dialect = DialectSQLite
		if dir := filepath.Dir(dsn); dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
		}
		d.db, err = sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		// PRAGMAs are per connection, so keep exactly one.
		d.db.SetMaxOpenConns(1)
		if _, err := d.db.ExecContext(ctx, `
			PRAGMA journal_mode = WAL;
			PRAGMA busy_timeout = 5000;
		`); err != nil {
			d.db.Close()
			return nil, fmt.Errorf("configure database: %w", err)
		}
	}

	if err := d.db.PingContext(ctx); err != nil {
		d.db.Close()
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := d.migrate(ctx); err != nil {
		d.db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Infof("STORAGE: opened %s database", d.dialect)
	return d, nil
}

// IsPostgres reports whether dsn selects the Postgres backend.
func IsPostgres(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

func (d *DB) migrate(ctx context.Context) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(goose.NopLogger())
	dialect := "sqlite3"
	if d.dialect == DialectPostgres {
		dialect = "pgx"
	}
	if err := goose.SetDialect(dialect); err != nil {
		return err
	}
	return goose.UpContext(ctx, d.db, ".")
}

// Close closes the database
func (d *DB) Close() error {
	return d.db.Close()
}

// Dialect reports which backend is in use.
func (d *DB) Dialect() Dialect {
	return d.dialect
}

// Ping checks that the database is reachable.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// InsertMessage stores msg. Times are kept as unix milliseconds.
func (d *DB) InsertMessage(ctx context.Context, msg *chat.Message) error {
	_, err := d.db.ExecContext(ctx, d.rebind(`
		INSERT INTO messages (id, sender_id, receiver_id, text, image, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		msg.ID, msg.SenderID, msg.ReceiverID, msg.Text, msg.Image, msg.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert message %s: %w", msg.ID, err)
	}
	return nil
}

// ConversationHistory returns all messages exchanged between a and b in
// either direction, ordered by created_at then id.
func (d *DB) ConversationHistory(ctx context.Context, a, b string) ([]*chat.Message, error) {
	rows, err := d.db.QueryContext(ctx, d.rebind(`
		SELECT id, sender_id, receiver_id, text, image, created_at
		FROM messages
		WHERE (sender_id = ? AND receiver_id = ?)
		   OR (sender_id = ? AND receiver_id = ?)
		ORDER BY created_at ASC, id ASC`), a, b, b, a)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	msgs := make([]*chat.Message, 0)
	for rows.Next() {
		var (
			m  chat.Message
			ms int64
		)
		if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Text, &m.Image, &ms); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.CreatedAt = time.UnixMilli(ms).UTC()
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}


// rebind rewrites ? placeholders to $n for Postgres.
func (d *DB) rebind(query string) string {
	if d.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
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
