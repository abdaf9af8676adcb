// Package journal persists engine events in SQLite so a review session can
// be audited after the fact.
//
// Each engine run is a session. Events are stored in publish order with
// their JSON payload:
//
//	j, err := journal.Open("reconciler.db", log)
//	session, err := j.StartSession(ctx, "Operating", "q2-2024.yaml")
//	engine, err := reconciler.NewEngine(cfg, reconciler.WithEventSink(j))
package journal

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"reconciliation-engine/internal/reconciler"
	"reconciliation-engine/pkg/errors"
	"reconciliation-engine/pkg/logger"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Record is one stored event.
type Record struct {
	Seq        int64           `json:"seq"`
	SessionID  string          `json:"session_id"`
	EventID    string          `json:"event_id"`
	Type       string          `json:"type"`
	ItemID     string          `json:"item_id,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// Session is one engine run.
type Session struct {
	ID        string    `json:"session_id"`
	Account   string    `json:"account"`
	Source    string    `json:"source"`
	StartedAt time.Time `json:"started_at"`
	Events    int       `json:"events"`
}

// Journal is an EventSink backed by SQLite.
type Journal struct {
	db     *sql.DB
	logger logger.Logger
	now    func() time.Time

	mu      sync.Mutex
	session string
}

var _ reconciler.EventSink = (*Journal)(nil)

// Open migrates the database at path and opens it.
func Open(path string, log logger.Logger) (*Journal, error) {
	if err := Migrate(path); err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryExternal, errors.CodeExternalFailure, "failed to open journal").
			WithContext("path", path)
	}
	db.SetMaxOpenConns(1) // sqlite
	db.SetConnMaxLifetime(0)

	return New(db, log), nil
}

// Migrate applies every pending migration to the database at path.
func Migrate(path string) error {
	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return errors.InternalError("journal migrations", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, "sqlite3://"+path)
	if err != nil {
		return errors.Wrap(err, errors.CategoryExternal, errors.CodeExternalFailure, "failed to prepare journal migrations").
			WithContext("path", path)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return errors.Wrap(err, errors.CategoryExternal, errors.CodeExternalFailure, "failed to migrate journal").
			WithContext("path", path)
	}
	return nil
}

// New wraps an already migrated database.
func New(db *sql.DB, log logger.Logger) *Journal {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Journal{
		db:     db,
		logger: log.WithComponent("journal"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// StartSession records a new session and makes it the target of Publish.
func (j *Journal) StartSession(ctx context.Context, account, source string) (string, error) {
	id := uuid.NewString()
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, account, source, started_at) VALUES (?, ?, ?, ?)`,
		id, account, source, j.now().Format(time.RFC3339Nano))
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryExternal, errors.CodeExternalFailure, "failed to start journal session")
	}

	j.mu.Lock()
	j.session = id
	j.mu.Unlock()

	j.logger.WithFields(logger.Fields{"session_id": id, "account": account}).Info("Journal session started")
	return id, nil
}

// Publish stores the event under the current session.
func (j *Journal) Publish(event reconciler.Event) error {
	j.mu.Lock()
	session := j.session
	j.mu.Unlock()
	if session == "" {
		return errors.New(errors.CategoryInternal, errors.CodeUnexpectedError, "journal has no active session").
			WithSuggestion("call StartSession before registering the journal")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return errors.InternalError("encode event", err)
	}

	h := event.EventHeader()
	_, err = j.db.Exec(
		`INSERT INTO events (session_id, event_id, type, item_id, occurred_at, payload) VALUES (?, ?, ?, ?, ?, ?)`,
		session, h.ID, string(h.Type), h.ItemID, h.At.UTC().Format(time.RFC3339Nano), string(payload))
	if err != nil {
		return errors.Wrap(err, errors.CategoryExternal, errors.CodeExternalFailure, "failed to store event").
			WithContext("event_id", h.ID).
			WithContext("type", string(h.Type))
	}

	j.logger.WithFields(logger.Fields{
		"session_id": session,
		"type":       h.Type,
	}).WithItem(h.ItemID).Debug("Event stored")
	return nil
}

// Events returns the events of a session in publish order.
func (j *Journal) Events(ctx context.Context, session string) ([]Record, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT seq, session_id, event_id, type, item_id, occurred_at, payload
		   FROM events WHERE session_id = ? ORDER BY seq`, session)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryExternal, errors.CodeExternalFailure, "failed to read events")
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var at, payload string
		if err := rows.Scan(&r.Seq, &r.SessionID, &r.EventID, &r.Type, &r.ItemID, &at, &payload); err != nil {
			return nil, errors.Wrap(err, errors.CategoryExternal, errors.CodeExternalFailure, "failed to read event row")
		}
		if r.OccurredAt, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, errors.InternalError("decode event time", err)
		}
		r.Payload = json.RawMessage(payload)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CategoryExternal, errors.CodeExternalFailure, "failed to read events")
	}
	return records, nil
}

// Sessions lists every session, newest first, with its event count.
func (j *Journal) Sessions(ctx context.Context) ([]Session, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT s.session_id, s.account, s.source, s.started_at, COUNT(e.seq)
		   FROM sessions s LEFT JOIN events e ON e.session_id = s.session_id
		  GROUP BY s.session_id ORDER BY s.started_at DESC`)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryExternal, errors.CodeExternalFailure, "failed to read sessions")
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var s Session
		var at string
		if err := rows.Scan(&s.ID, &s.Account, &s.Source, &at, &s.Events); err != nil {
			return nil, errors.Wrap(err, errors.CategoryExternal, errors.CodeExternalFailure, "failed to read session row")
		}
		if s.StartedAt, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, errors.InternalError("decode session time", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// Session returns the id of the active session, or "".
func (j *Journal) Session() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.session
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}
