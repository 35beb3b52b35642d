package main

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"asterchat/internal/api"
)

var (
	errNotFound      = errors.New("not found")
	errNameTaken     = errors.New("name taken")
	errWrongPassword = errors.New("wrong password")
	errNotAuthor     = errors.New("not the author")
)

type sqliteStore struct {
	db *sql.DB
}

func openSQLiteStore(path string, channels []string) (*sqliteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	store := &sqliteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.ensureChannels(channels); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o700)
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) initSchema() error {
	schema := []string{
		`PRAGMA journal_mode=WAL;`,
		`CREATE TABLE IF NOT EXISTS users (
			uuid INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			passwd_hash TEXT NOT NULL,
			pfp TEXT NOT NULL DEFAULT '',
			group_uuid INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS channels (
			uuid INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			uuid INTEGER PRIMARY KEY AUTOINCREMENT,
			content TEXT NOT NULL,
			author_uuid INTEGER NOT NULL,
			channel_uuid INTEGER NOT NULL,
			date INTEGER NOT NULL,
			edited INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages(channel_uuid, uuid);`,
		`CREATE TABLE IF NOT EXISTS sync_profiles (
			user_uuid INTEGER PRIMARY KEY,
			uname TEXT NOT NULL,
			pfp TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS sync_servers (
			user_uuid INTEGER NOT NULL,
			idx INTEGER NOT NULL,
			uuid INTEGER,
			uname TEXT NOT NULL,
			ip TEXT NOT NULL,
			port INTEGER NOT NULL,
			pfp TEXT,
			name TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sync_servers_user ON sync_servers(user_uuid, idx);`,
		`CREATE TABLE IF NOT EXISTS emoji (
			uuid INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			data TEXT NOT NULL
		);`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqliteStore) ensureChannels(names []string) error {
	for _, name := range names {
		name = strings.TrimSpace(strings.TrimPrefix(name, "#"))
		if name == "" {
			continue
		}
		if _, err := s.db.Exec(`INSERT OR IGNORE INTO channels(name) VALUES(?)`, name); err != nil {
			return err
		}
	}
	return nil
}

// createUser stores a new account and returns its id.
func (s *sqliteStore) createUser(name, password string) (int64, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, err
	}
	res, err := s.db.Exec(`INSERT OR IGNORE INTO users(name, passwd_hash, created_at) VALUES(?, ?, ?)`,
		name, string(hash), time.Now().Unix())
	if err != nil {
		return 0, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, errNameTaken
	}
	return res.LastInsertId()
}

// authenticate checks password against the account named by name, or
// by id when name is empty.
func (s *sqliteStore) authenticate(name string, id int64, password string) (int64, error) {
	var (
		row  *sql.Row
		hash string
	)
	if name != "" {
		row = s.db.QueryRow(`SELECT uuid, passwd_hash FROM users WHERE name = ?`, name)
	} else {
		row = s.db.QueryRow(`SELECT uuid, passwd_hash FROM users WHERE uuid = ?`, id)
	}
	if err := row.Scan(&id, &hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, errNotFound
		}
		return 0, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return 0, errWrongPassword
	}
	return id, nil
}

func (s *sqliteStore) user(id int64) (api.User, error) {
	var u api.User
	err := s.db.QueryRow(`SELECT uuid, name, pfp, group_uuid FROM users WHERE uuid = ?`, id).
		Scan(&u.ID, &u.Name, &u.Pfp, &u.GroupID)
	if errors.Is(err, sql.ErrNoRows) {
		return u, errNotFound
	}
	return u, err
}

func (s *sqliteStore) users() ([]api.User, error) {
	rows, err := s.db.Query(`SELECT uuid, name, pfp, group_uuid FROM users ORDER BY uuid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []api.User{}
	for rows.Next() {
		var u api.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Pfp, &u.GroupID); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *sqliteStore) setName(id int64, name string) error {
	res, err := s.db.Exec(`UPDATE OR IGNORE users SET name = ? WHERE uuid = ?`, name, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errNameTaken
	}
	return nil
}

func (s *sqliteStore) setPfp(id int64, pfp string) error {
	_, err := s.db.Exec(`UPDATE users SET pfp = ? WHERE uuid = ?`, pfp, id)
	return err
}

func (s *sqliteStore) channels() ([]api.Channel, error) {
	rows, err := s.db.Query(`SELECT uuid, name FROM channels ORDER BY uuid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []api.Channel{}
	for rows.Next() {
		var ch api.Channel
		if err := rows.Scan(&ch.ID, &ch.Name); err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

func (s *sqliteStore) channelExists(id int64) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(1) FROM channels WHERE uuid = ?`, id).Scan(&n)
	return n > 0, err
}

func (s *sqliteStore) addMessage(author, channel int64, content string) (api.Message, error) {
	msg := api.Message{Content: content, AuthorID: author, ChannelID: channel, Date: time.Now().Unix()}
	res, err := s.db.Exec(`INSERT INTO messages(content, author_uuid, channel_uuid, date) VALUES(?, ?, ?, ?)`,
		msg.Content, msg.AuthorID, msg.ChannelID, msg.Date)
	if err != nil {
		return msg, err
	}
	msg.ID, err = res.LastInsertId()
	return msg, err
}

// history returns up to num messages of channel older than before (when
// non-nil), oldest first.
func (s *sqliteStore) history(channel int64, num int, before *int64) ([]api.Message, error) {
	query := `SELECT uuid, content, author_uuid, channel_uuid, date, edited FROM messages WHERE channel_uuid = ?`
	args := []any{channel}
	if before != nil {
		query += ` AND uuid < ?`
		args = append(args, *before)
	}
	query += ` ORDER BY uuid DESC LIMIT ?`
	args = append(args, num)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []api.Message{}
	for rows.Next() {
		var m api.Message
		var edited int
		if err := rows.Scan(&m.ID, &m.Content, &m.AuthorID, &m.ChannelID, &m.Date, &edited); err != nil {
			return nil, err
		}
		m.Edited = edited != 0
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *sqliteStore) messageAuthor(id int64) (int64, error) {
	var author int64
	err := s.db.QueryRow(`SELECT author_uuid FROM messages WHERE uuid = ?`, id).Scan(&author)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, errNotFound
	}
	return author, err
}

func (s *sqliteStore) editMessage(id, author int64, content string) error {
	owner, err := s.messageAuthor(id)
	if err != nil {
		return err
	}
	if owner != author {
		return errNotAuthor
	}
	_, err = s.db.Exec(`UPDATE messages SET content = ?, edited = 1 WHERE uuid = ?`, content, id)
	return err
}

func (s *sqliteStore) deleteMessage(id, author int64) error {
	owner, err := s.messageAuthor(id)
	if err != nil {
		return err
	}
	if owner != author {
		return errNotAuthor
	}
	_, err = s.db.Exec(`DELETE FROM messages WHERE uuid = ?`, id)
	return err
}

func (s *sqliteStore) addEmoji(name, data string) (int64, error) {
	res, err := s.db.Exec(`INSERT OR REPLACE INTO emoji(name, data) VALUES(?, ?)`, name, data)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *sqliteStore) emojiList() ([]api.EmojiRef, error) {
	rows, err := s.db.Query(`SELECT uuid, name FROM emoji ORDER BY uuid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []api.EmojiRef{}
	for rows.Next() {
		var e api.EmojiRef
		if err := rows.Scan(&e.ID, &e.Name); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) emoji(id int64) (api.Emoji, error) {
	var e api.Emoji
	err := s.db.QueryRow(`SELECT uuid, name, data FROM emoji WHERE uuid = ?`, id).Scan(&e.ID, &e.Name, &e.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return e, errNotFound
	}
	return e, err
}

func (s *sqliteStore) setSyncProfile(user int64, uname, pfp string) error {
	_, err := s.db.Exec(`INSERT INTO sync_profiles(user_uuid, uname, pfp) VALUES(?, ?, ?)
		ON CONFLICT(user_uuid) DO UPDATE SET uname = excluded.uname, pfp = excluded.pfp`, user, uname, pfp)
	return err
}

func (s *sqliteStore) syncProfile(user int64) (api.SyncData, error) {
	d := api.SyncData{UserUUID: user}
	err := s.db.QueryRow(`SELECT uname, pfp FROM sync_profiles WHERE user_uuid = ?`, user).Scan(&d.Uname, &d.Pfp)
	if errors.Is(err, sql.ErrNoRows) {
		return d, errNotFound
	}
	return d, err
}

// setSyncServers replaces the whole stored list for user.
func (s *sqliteStore) setSyncServers(user int64, servers []api.SyncServer) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.Exec(`DELETE FROM sync_servers WHERE user_uuid = ?`, user); err != nil {
		return err
	}
	for _, srv := range servers {
		if _, err := tx.Exec(`INSERT INTO sync_servers(user_uuid, idx, uuid, uname, ip, port, pfp, name)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
			user, srv.Idx, srv.UUID, srv.Uname, srv.IP, srv.Port, srv.Pfp, srv.Name); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) syncServers(user int64) ([]api.SyncServer, error) {
	rows, err := s.db.Query(`SELECT idx, uuid, uname, ip, port, pfp, name FROM sync_servers
		WHERE user_uuid = ? ORDER BY idx`, user)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []api.SyncServer{}
	for rows.Next() {
		var (
			srv       api.SyncServer
			id        sql.NullInt64
			pfp, name sql.NullString
		)
		if err := rows.Scan(&srv.Idx, &id, &srv.Uname, &srv.IP, &srv.Port, &pfp, &name); err != nil {
			return nil, err
		}
		if id.Valid {
			srv.UUID = &id.Int64
		}
		if pfp.Valid {
			srv.Pfp = &pfp.String
		}
		if name.Valid {
			srv.Name = &name.String
		}
		out = append(out, srv)
	}
	return out, rows.Err()
}
