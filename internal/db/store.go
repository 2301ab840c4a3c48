package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"termchat/internal/chat"
	"termchat/internal/server"
	"termchat/internal/user"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// Store is the Postgres implementation of the dev server's store.
type Store struct {
	db *sql.DB
}

var _ server.Store = (*Store)(nil)

func NewStore(d *Database) *Store {
	return &Store{db: d.Conn}
}

func (s *Store) CreateUser(ctx context.Context, username, passwordHash string) (server.Account, error) {
	a := server.Account{ID: uuid.NewString(), Username: username, PasswordHash: passwordHash}
	query := "INSERT INTO users (id, username, password) VALUES ($1, $2, $3)"

	_, err := s.db.ExecContext(ctx, query, a.ID, a.Username, a.PasswordHash)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return server.Account{}, server.ErrUsernameTaken
	}
	if err != nil {
		return server.Account{}, err
	}
	return a, nil
}

func (s *Store) UserByUsername(ctx context.Context, username string) (server.Account, error) {
	var a server.Account
	query := "SELECT id, username, password FROM users WHERE username = $1"

	err := s.db.QueryRowContext(ctx, query, username).Scan(&a.ID, &a.Username, &a.PasswordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return server.Account{}, server.ErrNotFound
	}
	if err != nil {
		return server.Account{}, err
	}
	return a, nil
}

func (s *Store) UsersByIDs(ctx context.Context, ids []string) ([]user.User, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, username FROM users WHERE id = ANY($1)", ids)
	if err != nil {
		return nil, err
	}
	return scanUsers(rows)
}

func (s *Store) SearchUsers(ctx context.Context, query string) ([]user.User, error) {
	q := `SELECT id, username FROM users WHERE username ILIKE $1 ORDER BY username LIMIT 10`
	rows, err := s.db.QueryContext(ctx, q, "%"+query+"%")
	if err != nil {
		return nil, err
	}
	return scanUsers(rows)
}

func scanUsers(rows *sql.Rows) ([]user.User, error) {
	defer rows.Close()

	users := []user.User{}
	for rows.Next() {
		var u user.User
		if err := rows.Scan(&u.ID, &u.Username); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) ChatsFor(ctx context.Context, viewerID, name string) ([]chat.ChatRecord, error) {
	query := `
		SELECT c.id
		FROM chats c
		JOIN participants p ON p.chat_id = c.id AND p.user_id = $1
		WHERE $2 = ''
		   OR c.name ILIKE $3
		   OR (c.name IS NULL AND EXISTS (
		        SELECT 1 FROM participants o
		        JOIN users u ON u.id = o.user_id
		        WHERE o.chat_id = c.id AND o.user_id <> $1 AND u.username ILIKE $3))
		ORDER BY c.id
	`
	rows, err := s.db.QueryContext(ctx, query, viewerID, name, "%"+name+"%")
	if err != nil {
		return nil, err
	}
	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	records := make([]chat.ChatRecord, 0, len(ids))
	for _, id := range ids {
		record, err := s.Chat(ctx, id, viewerID)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func (s *Store) Chat(ctx context.Context, chatID int, viewerID string) (chat.ChatRecord, error) {
	var name sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT name FROM chats WHERE id = $1", chatID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.ChatRecord{}, server.ErrNotFound
	}
	if err != nil {
		return chat.ChatRecord{}, err
	}

	members, err := s.Members(ctx, chatID)
	if err != nil {
		return chat.ChatRecord{}, err
	}
	if !contains(members, viewerID) {
		return chat.ChatRecord{}, server.ErrNotMember
	}

	id := chatID
	record := chat.ChatRecord{ID: &id, MemberIDs: members}
	if name.Valid {
		n := name.String
		record.Name = &n
	}

	query := `
		SELECT m.sender_id, m.content, EXTRACT(EPOCH FROM m.created_at)::float8,
		       m.sender_id = $2 OR m.created_at <= COALESCE(p.read_at, '-infinity'::timestamptz)
		FROM messages m
		JOIN participants p ON p.chat_id = m.chat_id AND p.user_id = $2
		WHERE m.chat_id = $1
		ORDER BY m.created_at, m.id
	`
	rows, err := s.db.QueryContext(ctx, query, chatID, viewerID)
	if err != nil {
		return chat.ChatRecord{}, err
	}
	defer rows.Close()

	record.Messages = []chat.MessageRecord{}
	for rows.Next() {
		m := chat.MessageRecord{ChatID: chatID}
		if err := rows.Scan(&m.SenderID, &m.Text, &m.CreatedAt, &m.IsRead); err != nil {
			return chat.ChatRecord{}, err
		}
		record.Messages = append(record.Messages, m)
	}
	return record, rows.Err()
}

func (s *Store) DirectChat(ctx context.Context, a, b string) (int, bool, error) {
	query := `
		SELECT c.id FROM chats c
		WHERE c.name IS NULL
		  AND (SELECT COUNT(*) FROM participants p WHERE p.chat_id = c.id) = 2
		  AND EXISTS (SELECT 1 FROM participants p WHERE p.chat_id = c.id AND p.user_id = $1)
		  AND EXISTS (SELECT 1 FROM participants p WHERE p.chat_id = c.id AND p.user_id = $2)
		LIMIT 1
	`
	var id int
	err := s.db.QueryRowContext(ctx, query, a, b).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (s *Store) CreateChat(ctx context.Context, name *string, memberIDs []string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var id int
	if err := tx.QueryRowContext(ctx, "INSERT INTO chats (name) VALUES ($1) RETURNING id", name).Scan(&id); err != nil {
		return 0, err
	}
	for i, member := range memberIDs {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO participants (chat_id, user_id, position) VALUES ($1, $2, $3)", id, member, i)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return 0, server.ErrNotFound
		}
		if err != nil {
			return 0, fmt.Errorf("add participant %s: %w", member, err)
		}
	}
	return id, tx.Commit()
}

func (s *Store) Members(ctx context.Context, chatID int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT user_id FROM participants WHERE chat_id = $1 ORDER BY position", chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		members = append(members, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, server.ErrNotFound
	}
	return members, nil
}

func (s *Store) SaveMessage(ctx context.Context, chatID int, senderID, text string) (chat.MessageRecord, error) {
	query := `
		INSERT INTO messages (chat_id, sender_id, content)
		SELECT $1, $2, $3
		WHERE EXISTS (SELECT 1 FROM participants WHERE chat_id = $1 AND user_id = $2)
		RETURNING EXTRACT(EPOCH FROM created_at)::float8
	`
	m := chat.MessageRecord{ChatID: chatID, SenderID: senderID, Text: text}
	err := s.db.QueryRowContext(ctx, query, chatID, senderID, text).Scan(&m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.MessageRecord{}, server.ErrNotMember
	}
	if err != nil {
		return chat.MessageRecord{}, err
	}
	return m, s.MarkRead(ctx, chatID, senderID)
}

func (s *Store) MarkRead(ctx context.Context, chatID int, userID string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE participants SET read_at = clock_timestamp() WHERE chat_id = $1 AND user_id = $2", chatID, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return server.ErrNotMember
	}
	return nil
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
