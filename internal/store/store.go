// Package store wraps database/sql with the mattn/go-sqlite3 driver
// behind an "encrypted row store" boundary treated as opaque:
// account.db, friends.db and the per-friend message
// databases are all opened through Open, which issues a SQLCipher-
// style `PRAGMA key=` before touching the schema. Actual at-rest
// encryption depends on the driver being built against a
// SQLCipher-enabled libsqlite3; that build concern sits outside this
// package.
package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB is a single opened, keyed row store.
type DB struct {
	sql  *sql.DB
	path string
}

// Open opens (creating if necessary) the SQLite file at path and
// issues PRAGMA key=<pragmaKeyHex> before any schema access.
func Open(path, pragmaKeyHex string) (*DB, error) {
	sqldb, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if _, err := sqldb.Exec(fmt.Sprintf("PRAGMA key = \"x'%s'\"", pragmaKeyHex)); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("store: set pragma key: %w", err)
	}
	db := &DB{sql: sqldb, path: path}
	if err := db.ensureSchema(); err != nil {
		sqldb.Close()
		return nil, err
	}
	return db, nil
}

// Close releases the underlying sql.DB handle.
func (d *DB) Close() error {
	return d.sql.Close()
}

func (d *DB) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS account (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			is_bot INTEGER NOT NULL DEFAULT 0,
			rsa_pem TEXT NOT NULL,
			ec_pem TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS friends (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			dbname TEXT NOT NULL UNIQUE,
			rsa_pem TEXT NOT NULL,
			ec_pem TEXT NOT NULL,
			status INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS msg (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			_type INTEGER NOT NULL DEFAULT 0,
			direction INTEGER NOT NULL,
			body TEXT NOT NULL,
			time INTEGER NOT NULL,
			seen INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS files (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			msgid INTEGER NOT NULL REFERENCES msg(id),
			fileid TEXT NOT NULL UNIQUE,
			filename TEXT NOT NULL,
			size INTEGER NOT NULL,
			aes_key TEXT NOT NULL DEFAULT '',
			direction INTEGER NOT NULL,
			downloaded INTEGER NOT NULL DEFAULT 0,
			time INTEGER NOT NULL
		)`,
	}
	for _, s := range stmts {
		if _, err := d.sql.Exec(s); err != nil {
			return fmt.Errorf("store: ensure schema: %w", err)
		}
	}
	return nil
}

// AccountRow is the single row stored in an account.db.
type AccountRow struct {
	UserID uint64
	Name   string
	IsBot  bool
	RSAPem string
	ECPem  string
}

// PutAccountRow writes (or replaces) the sole account row.
func (d *DB) PutAccountRow(userID uint64, name string, isBot bool, rsaPEM, ecPEM string) error {
	_, err := d.sql.Exec(`DELETE FROM account`)
	if err != nil {
		return err
	}
	_, err = d.sql.Exec(
		`INSERT INTO account (id, name, is_bot, rsa_pem, ec_pem) VALUES (?, ?, ?, ?, ?)`,
		int64(userID), name, isBot, rsaPEM, ecPEM,
	)
	return err
}

// GetAccountRow reads back the sole account row.
func (d *DB) GetAccountRow() (AccountRow, error) {
	var row AccountRow
	var id int64
	var isBot int
	err := d.sql.QueryRow(`SELECT id, name, is_bot, rsa_pem, ec_pem FROM account LIMIT 1`).
		Scan(&id, &row.Name, &isBot, &row.RSAPem, &row.ECPem)
	if err != nil {
		return AccountRow{}, err
	}
	row.UserID = uint64(id)
	row.IsBot = isBot != 0
	return row, nil
}

// FriendRow is a single row of the friends table.
type FriendRow struct {
	UserID uint64
	Name   string
	DBName string
	RSAPem string
	ECPem  string
	Status int
}

// PutFriendRow inserts a new friend row.
func (d *DB) PutFriendRow(f FriendRow) error {
	_, err := d.sql.Exec(
		`INSERT INTO friends (id, name, dbname, rsa_pem, ec_pem, status) VALUES (?, ?, ?, ?, ?, ?)`,
		int64(f.UserID), f.Name, f.DBName, f.RSAPem, f.ECPem, f.Status,
	)
	return err
}

// DeleteFriendByID removes a friend row by user ID.
func (d *DB) DeleteFriendByID(userID uint64) error {
	_, err := d.sql.Exec(`DELETE FROM friends WHERE id = ?`, int64(userID))
	return err
}

// LoadAllFriends returns every friend row.
func (d *DB) LoadAllFriends() ([]FriendRow, error) {
	rows, err := d.sql.Query(`SELECT id, name, dbname, rsa_pem, ec_pem, status FROM friends`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FriendRow
	for rows.Next() {
		var f FriendRow
		var id int64
		if err := rows.Scan(&id, &f.Name, &f.DBName, &f.RSAPem, &f.ECPem, &f.Status); err != nil {
			return nil, err
		}
		f.UserID = uint64(id)
		out = append(out, f)
	}
	return out, rows.Err()
}

// SetFriendStatus updates a friend's cached presence status.
func (d *DB) SetFriendStatus(userID uint64, status int) error {
	_, err := d.sql.Exec(`UPDATE friends SET status = ? WHERE id = ?`, status, int64(userID))
	return err
}

// DBNameExists reports whether a friend row already uses dbname.
func (d *DB) DBNameExists(dbname string) (bool, error) {
	var n int
	err := d.sql.QueryRow(`SELECT COUNT(*) FROM friends WHERE dbname = ?`, dbname).Scan(&n)
	return n > 0, err
}

// Message types stored in msg._type.
const (
	MsgTypeChat = 0
	MsgTypeFile = 1
)

// MsgRow is a single row of a per-friend conversation's msg table. For
// Type == MsgTypeFile, File holds the joined files row; GetMsgs skips
// file-type rows whose files row is missing rather than returning a
// half-populated record.
type MsgRow struct {
	ID        int64
	Type      int
	Direction int // 0 = incoming, 1 = outgoing
	Body      string
	Time      int64
	Seen      bool
	File      *FileRow
}

// InsertMsg appends a plain chat message row to this conversation DB.
func (d *DB) InsertMsg(direction int, body string, t int64, seen bool) (int64, error) {
	res, err := d.sql.Exec(
		`INSERT INTO msg (_type, direction, body, time, seen) VALUES (?, ?, ?, ?, ?)`,
		MsgTypeChat, direction, body, t, seen,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// InsertFileMsg appends a msg row of type MsgTypeFile and its
// corresponding files row in one transaction, linking files.msgid back
// to the new msg row.
func (d *DB) InsertFileMsg(direction int, body string, t int64, seen bool, f FileRow) (int64, error) {
	tx, err := d.sql.Begin()
	if err != nil {
		return 0, err
	}
	res, err := tx.Exec(
		`INSERT INTO msg (_type, direction, body, time, seen) VALUES (?, ?, ?, ?, ?)`,
		MsgTypeFile, direction, body, t, seen,
	)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	msgID, err := res.LastInsertId()
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	if _, err := tx.Exec(
		`INSERT INTO files (msgid, fileid, filename, size, aes_key, direction, downloaded, time) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msgID, f.FileID, f.Filename, f.Size, f.AESKey, f.Direction, f.Downloaded, f.Time,
	); err != nil {
		tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return msgID, nil
}

// GetMsgs returns all messages in the conversation, oldest first. For
// file-type rows it joins the corresponding files row; a file-type row
// whose files row is missing is dropped rather than returned bare.
func (d *DB) GetMsgs() ([]MsgRow, error) {
	rows, err := d.sql.Query(`
		SELECT m.id, m._type, m.direction, m.body, m.time, m.seen,
		       f.fileid, f.filename, f.size, f.aes_key, f.direction, f.downloaded, f.time
		FROM msg m
		LEFT JOIN files f ON f.msgid = m.id
		ORDER BY m.id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MsgRow
	for rows.Next() {
		var m MsgRow
		var seen int
		var fileID, filename, aesKey sql.NullString
		var fsize, fdirection, ftime sql.NullInt64
		var fdownloaded sql.NullInt64
		if err := rows.Scan(&m.ID, &m.Type, &m.Direction, &m.Body, &m.Time, &seen,
			&fileID, &filename, &fsize, &aesKey, &fdirection, &fdownloaded, &ftime); err != nil {
			return nil, err
		}
		m.Seen = seen != 0

		if m.Type == MsgTypeFile {
			if !fileID.Valid {
				continue // files row missing: skip the message per the store's join contract
			}
			m.File = &FileRow{
				FileID:     fileID.String,
				Filename:   filename.String,
				Size:       fsize.Int64,
				AESKey:     aesKey.String,
				Direction:  int(fdirection.Int64),
				Downloaded: fdownloaded.Int64 != 0,
				Time:       ftime.Int64,
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SetAllSeen marks every incoming message in the conversation as seen.
func (d *DB) SetAllSeen() error {
	_, err := d.sql.Exec(`UPDATE msg SET seen = 1 WHERE direction = 0`)
	return err
}

// FileRow is a single row of a per-friend conversation's files table.
type FileRow struct {
	FileID     string
	Filename   string
	Size       int64
	AESKey     string // base64, as carried in the T_FILEMSG envelope
	Direction  int
	Downloaded bool
	Time       int64
}

// SetFileDownloaded marks a file row as downloaded.
func (d *DB) SetFileDownloaded(fileID string) error {
	_, err := d.sql.Exec(`UPDATE files SET downloaded = 1 WHERE fileid = ?`, fileID)
	return err
}

// GetFiles returns all file rows in the conversation.
func (d *DB) GetFiles() ([]FileRow, error) {
	rows, err := d.sql.Query(`SELECT fileid, filename, size, aes_key, direction, downloaded, time FROM files ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FileRow
	for rows.Next() {
		var f FileRow
		var downloaded int
		if err := rows.Scan(&f.FileID, &f.Filename, &f.Size, &f.AESKey, &f.Direction, &downloaded, &f.Time); err != nil {
			return nil, err
		}
		f.Downloaded = downloaded != 0
		out = append(out, f)
	}
	return out, rows.Err()
}
