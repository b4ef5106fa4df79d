package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.io/infrasutra/ycap/internal/auth"
)

var (
	ErrAddressTaken       = errors.New("address already taken")
	ErrUnknownUser        = errors.New("unknown user")
	ErrCredentialMismatch = errors.New("credential mismatch")
	ErrUnknownRecipient   = errors.New("unknown recipient")
	ErrMessageNotFound    = errors.New("message not found")
)

type Store struct {
	db *sql.DB
}

func Open(ctx context.Context, path string) (*Store, error) {
	trimmed := strings.TrimSpace(path)
	inMemory := false
	if trimmed == "" {
		trimmed = ":memory:"
		inMemory = true
	}
	if strings.Contains(trimmed, "mode=memory") || trimmed == ":memory:" || trimmed == "file::memory:" {
		inMemory = true
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serializes writers and keeps an in-memory
	// database from vanishing between calls.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if !inMemory {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
            address TEXT PRIMARY KEY,
            credential TEXT NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS messages (
            id TEXT PRIMARY KEY,
            sender TEXT NOT NULL,
            recipient TEXT NOT NULL,
            type TEXT NOT NULL,
            body TEXT NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_recipient ON messages(recipient);`,
	}

	for _, statement := range statements {
		if _, err := s.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// CreateUser registers a new mailbox address. The credential is
// bcrypt-hashed before it touches the table.
func (s *Store) CreateUser(ctx context.Context, address, credential string) error {
	hash, err := auth.HashCredential(credential)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `INSERT INTO users (address, credential)
        VALUES (?, ?)
        ON CONFLICT(address) DO NOTHING;`, address, hash)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	if rows == 0 {
		return ErrAddressTaken
	}
	return nil
}

// VerifyCredential checks a secret against the stored hash.
func (s *Store) VerifyCredential(ctx context.Context, address, credential string) error {
	var hash string
	row := s.db.QueryRowContext(ctx, `SELECT credential FROM users WHERE address = ?;`, address)
	if err := row.Scan(&hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrUnknownUser
		}
		return fmt.Errorf("verify credential: %w", err)
	}
	if err := auth.CompareCredential(hash, credential); err != nil {
		return ErrCredentialMismatch
	}
	return nil
}

// UserExists reports whether an address has a user record.
func (s *Store) UserExists(ctx context.Context, address string) (bool, error) {
	var one int
	row := s.db.QueryRowContext(ctx, `SELECT 1 FROM users WHERE address = ?;`, address)
	if err := row.Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("user exists: %w", err)
	}
	return true, nil
}

// InsertMessage stores a mail and returns its generated id. The
// recipient must already have a user record.
func (s *Store) InsertMessage(ctx context.Context, sender, recipient, mailType, body string) (string, error) {
	id, err := newMessageID()
	if err != nil {
		return "", err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var one int
	row := tx.QueryRowContext(ctx, `SELECT 1 FROM users WHERE address = ?;`, recipient)
	if err := row.Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrUnknownRecipient
		}
		return "", fmt.Errorf("check recipient: %w", err)
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO messages (id, sender, recipient, type, body)
        VALUES (?, ?, ?, ?, ?);`, id, sender, recipient, mailType, body)
	if err != nil {
		return "", fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit message: %w", err)
	}
	return id, nil
}

// ListMessageIDs returns the ids of messages where owner is the
// recipient (Inbox) or the sender (Sent), in insertion order.
func (s *Store) ListMessageIDs(ctx context.Context, owner string, direction Direction) ([]string, error) {
	column := "recipient"
	if direction == Sent {
		column = "sender"
	}
	query := fmt.Sprintf(`SELECT id FROM messages WHERE %s = ? ORDER BY rowid;`, column)

	rows, err := s.db.QueryContext(ctx, query, owner)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan message id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return ids, nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (Message, error) {
	var message Message
	row := s.db.QueryRowContext(ctx, `SELECT id, sender, recipient, type, body
        FROM messages WHERE id = ?;`, id)
	if err := row.Scan(
		&message.ID,
		&message.Sender,
		&message.Recipient,
		&message.Type,
		&message.Body,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Message{}, ErrMessageNotFound
		}
		return Message{}, fmt.Errorf("get message: %w", err)
	}
	return message, nil
}

// DeleteMessage removes a mail outright. There is no per-mailbox soft
// flag: after this neither sender nor recipient can see the message.
func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if rows == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// newMessageID returns 16 random hex characters. Ids are opaque so a
// client cannot enumerate other people's mail.
func newMessageID() (string, error) {
	raw := make([]byte, 8)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate message id: %w", err)
	}
	return hex.EncodeToString(raw), nil
}
