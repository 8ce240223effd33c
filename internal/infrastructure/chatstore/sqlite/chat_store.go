package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"coachmeet/internal/core/domain"
	"coachmeet/internal/core/ports"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const pollInterval = 500 * time.Millisecond

// SQLiteChatStore persists chat history in a local sqlite database. Live
// updates are delivered by polling for rows above the last seen rowid, so
// this channel always lags the broadcast channel.
type SQLiteChatStore struct {
	db     *sql.DB
	logger *zap.SugaredLogger

	mu     sync.Mutex
	cancel []context.CancelFunc
	wg     sync.WaitGroup
}

// Open opens or creates the chat database at path.
func Open(path string, logger *zap.SugaredLogger) (ports.ChatStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS chat_messages (
			id          TEXT NOT NULL,
			meeting_id  TEXT NOT NULL,
			sender_id   TEXT NOT NULL,
			sender_name TEXT NOT NULL,
			body        TEXT NOT NULL,
			created_at  INTEGER NOT NULL,
			expires_at  INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_chat_messages_meeting
			ON chat_messages(meeting_id, created_at);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create chat table: %w", err)
	}

	return &SQLiteChatStore{db: db, logger: logger}, nil
}

func (s *SQLiteChatStore) Append(ctx context.Context, msg *domain.ChatMessage) error {
	var expires int64
	if !msg.ExpiresAt.IsZero() {
		expires = msg.ExpiresAt.UnixMilli()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_messages (id, meeting_id, sender_id, sender_name, body, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, string(msg.MeetingID), string(msg.SenderID), msg.SenderName, msg.Body,
		msg.CreatedAt.UnixMilli(), expires)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *SQLiteChatStore) Recent(ctx context.Context, meetingID domain.MeetingID, limit int) ([]*domain.ChatMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender_id, sender_name, body, created_at, expires_at
		FROM chat_messages
		WHERE meeting_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, string(meetingID), limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []*domain.ChatMessage
	for rows.Next() {
		msg, err := scanMessage(rows, meetingID)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}

	// Query returned newest first; callers expect oldest first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *SQLiteChatStore) Subscribe(ctx context.Context, meetingID domain.MeetingID, onInsert func(*domain.ChatMessage)) (func(), error) {
	var lastRowID int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(rowid), 0) FROM chat_messages WHERE meeting_id = ?`,
		string(meetingID),
	).Scan(&lastRowID); err != nil {
		return nil, fmt.Errorf("read tail rowid: %w", err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = append(s.cancel, cancel)
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-subCtx.Done():
				return
			case <-ticker.C:
				next, err := s.deliverSince(subCtx, meetingID, lastRowID, onInsert)
				if err != nil {
					if subCtx.Err() == nil {
						s.logger.Warnw("chat insert poll failed",
							"meeting_id", meetingID,
							"error", err,
						)
					}
					continue
				}
				lastRowID = next
			}
		}
	}()

	return cancel, nil
}

func (s *SQLiteChatStore) deliverSince(ctx context.Context, meetingID domain.MeetingID, after int64, onInsert func(*domain.ChatMessage)) (int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT rowid, id, sender_id, sender_name, body, created_at, expires_at
		FROM chat_messages
		WHERE meeting_id = ? AND rowid > ?
		ORDER BY rowid ASC
	`, string(meetingID), after)
	if err != nil {
		return after, err
	}
	defer rows.Close()

	last := after
	for rows.Next() {
		var (
			rowid              int64
			id, sender, name   string
			body               string
			createdMs, expires int64
		)
		if err := rows.Scan(&rowid, &id, &sender, &name, &body, &createdMs, &expires); err != nil {
			return last, err
		}
		msg := &domain.ChatMessage{
			ID:         id,
			MeetingID:  meetingID,
			SenderID:   domain.ParticipantID(sender),
			SenderName: name,
			Body:       body,
			CreatedAt:  time.UnixMilli(createdMs),
		}
		if expires > 0 {
			msg.ExpiresAt = time.UnixMilli(expires)
		}
		onInsert(msg)
		last = rowid
	}
	return last, rows.Err()
}

func (s *SQLiteChatStore) Close() error {
	s.mu.Lock()
	cancels := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
	s.wg.Wait()
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner, meetingID domain.MeetingID) (*domain.ChatMessage, error) {
	var (
		id, sender, name   string
		body               string
		createdMs, expires int64
	)
	if err := row.Scan(&id, &sender, &name, &body, &createdMs, &expires); err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}
	msg := &domain.ChatMessage{
		ID:         id,
		MeetingID:  meetingID,
		SenderID:   domain.ParticipantID(sender),
		SenderName: name,
		Body:       body,
		CreatedAt:  time.UnixMilli(createdMs),
	}
	if expires > 0 {
		msg.ExpiresAt = time.UnixMilli(expires)
	}
	return msg, nil
}
