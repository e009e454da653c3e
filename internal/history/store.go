// Package history persists routed room messages to SQLite. Room and
// session state are deliberately not persisted; the store is an audit log
// of delivered messages only.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS room_messages (
	id         TEXT PRIMARY KEY,
	room_id    TEXT NOT NULL,
	client_id  TEXT NOT NULL,
	user_id    TEXT,
	content    TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_room_messages_room_time
	ON room_messages(room_id, created_at);
`

// Record is one persisted room message.
type Record struct {
	ID        string      `json:"id"`
	RoomID    string      `json:"room_id"`
	ClientID  string      `json:"client_id"`
	UserID    string      `json:"user_id,omitempty"`
	Content   interface{} `json:"content"`
	CreatedAt time.Time   `json:"created_at"`
}

// Store is a SQLite-backed message log. All writes funnel through a single
// writer goroutine; SQLite performs poorly under concurrent writers.
type Store struct {
	db      *sql.DB
	writeCh chan writeOp
	done    chan struct{}
	wg      sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

type writeOp struct {
	fn     func(*sql.DB) error
	result chan error
}

// Open creates or opens the store at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply history schema: %w", err)
	}

	s := &Store{
		db:      db,
		writeCh: make(chan writeOp, 100),
		done:    make(chan struct{}),
	}
	s.wg.Add(1)
	go s.writeLoop()
	return s, nil
}

func (s *Store) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case op := <-s.writeCh:
			op.result <- op.fn(s.db)
		case <-s.done:
			// Drain queued writes before shutting down.
			for {
				select {
				case op := <-s.writeCh:
					op.result <- op.fn(s.db)
				default:
					return
				}
			}
		}
	}
}

func (s *Store) submit(ctx context.Context, fn func(*sql.DB) error) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}
	s.mu.Unlock()

	op := writeOp{fn: fn, result: make(chan error, 1)}
	select {
	case s.writeCh <- op:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-op.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StoreRoomMessage persists one routed message. Satisfies the server's
// MessageStore interface.
func (s *Store) StoreRoomMessage(ctx context.Context, roomID, clientID, userID string, content interface{}, at time.Time) error {
	data, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("failed to serialize content: %w", err)
	}
	id := uuid.New().String()
	return s.submit(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO room_messages (id, room_id, client_id, user_id, content, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			id, roomID, clientID, userID, string(data), at.UTC())
		return err
	})
}

// RoomHistory returns up to limit most recent messages for a room, oldest
// first. Reads go straight to the pool; only writes are serialized.
func (s *Store) RoomHistory(ctx context.Context, roomID string, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, room_id, client_id, user_id, content, created_at
		 FROM (
			SELECT * FROM room_messages WHERE room_id = ?
			ORDER BY created_at DESC LIMIT ?
		 ) ORDER BY created_at ASC`,
		roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query room history: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var rec Record
		var content string
		var userID sql.NullString
		if err := rows.Scan(&rec.ID, &rec.RoomID, &rec.ClientID, &userID, &content, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		rec.UserID = userID.String
		if err := json.Unmarshal([]byte(content), &rec.Content); err != nil {
			rec.Content = content
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// Close drains pending writes and closes the database. Idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	s.wg.Wait()
	return s.db.Close()
}
