package messagestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"uk.co.dudmesh.chatroom/internal/model"
)

type Store struct {
	db       *sqlx.DB
	location *time.Location

	// appends are serialized so ids follow insertion order
	mu sync.Mutex
}

// New opens (creating if needed) the sqlite database at dbPath.
func New(dbPath string, location *time.Location) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}
	return open("file:"+dbPath+"?_journal_mode=WAL&_busy_timeout=5000", location)
}

// NewInMemory opens a private in-memory database identified by name.
func NewInMemory(name string, location *time.Location) (*Store, error) {
	return open("file:"+name+"?mode=memory&cache=shared", location)
}

func open(dsn string, location *time.Location) (*Store, error) {
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if location == nil {
		location = time.UTC
	}

	store := &Store{db: db, location: location}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}

	return store, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables() error {
	_, err := s.db.Exec(`create table if not exists message(
		id         integer primary key autoincrement,
		author     text not null,
		content    text not null,
		created_at DATETIME not null
	)`)
	if err != nil {
		return fmt.Errorf("creating message table: %w", err)
	}
	return nil
}

// Append stores a message and returns it with its id populated.
func (s *Store) Append(ctx context.Context, author, content string, at time.Time) (model.Message, error) {
	message := model.Message{
		Author:    author,
		Content:   content,
		CreatedAt: at.In(s.location),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.NamedExecContext(ctx, `insert into message
		(author, content, created_at)
		values(:author, :content, :created_at)`, &message)
	if err != nil {
		return model.Message{}, &model.StorageError{Op: "append", Err: fmt.Errorf("inserting message: %w", err)}
	}
	if rows, err := res.RowsAffected(); err != nil {
		return model.Message{}, &model.StorageError{Op: "append", Err: fmt.Errorf("getting rows affected: %w", err)}
	} else if rows != 1 {
		return model.Message{}, &model.StorageError{Op: "append", Err: fmt.Errorf("expected 1 row to be affected, got %d", rows)}
	}

	id, err := res.LastInsertId()
	if err != nil {
		return model.Message{}, &model.StorageError{Op: "append", Err: fmt.Errorf("getting inserted id: %w", err)}
	}
	message.ID = id

	return message, nil
}

// RangeBefore returns up to limit messages with id < cursor, newest first.
func (s *Store) RangeBefore(ctx context.Context, cursor model.Cursor, limit int) ([]model.Message, error) {
	var (
		messages []model.Message
		err      error
	)
	if cursor == nil {
		err = s.db.SelectContext(ctx, &messages,
			`select id, author, content, created_at from message order by id desc limit ?`, limit)
	} else {
		err = s.db.SelectContext(ctx, &messages,
			`select id, author, content, created_at from message where id < ? order by id desc limit ?`, *cursor, limit)
	}
	if err != nil {
		return nil, &model.StorageError{Op: "range", Err: fmt.Errorf("selecting messages: %w", err)}
	}

	for i := range messages {
		messages[i].CreatedAt = messages[i].CreatedAt.In(s.location)
	}
	return messages, nil
}
