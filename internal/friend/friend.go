// Package friend implements the friend roster: adding/removing
// friends, looking up their identity keys, and tracking the presence
// status carried by T_FRIENDS/T_FRIEND_* packets. Grounded on the
// reference friend-roster design.
package friend

import (
	"encoding/hex"
	"fmt"

	"github.com/lukwies/libretro/internal/identkeys"
	"github.com/lukwies/libretro/internal/retrocrypto"
	"github.com/lukwies/libretro/internal/retroerr"
	"github.com/lukwies/libretro/internal/store"
)

// Status values mirror the reference wire protocol's
// friend_status_str table.
type Status int

const (
	StatusUnknown Status = iota
	StatusOnline
	StatusOffline
)

func (s Status) String() string {
	switch s {
	case StatusOnline:
		return "online"
	case StatusOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// maxDBNameAttempts bounds how many random 16-hex-digit names
// get_random_dbname tries before giving up, matching the original's
// 16-attempt cap.
const maxDBNameAttempts = 16

// friendDBKeyIterations is the PBKDF rounds used to derive the
// friends.db pragma key from the session master key, matching the
// reference derive_key default.
const friendDBKeyIterations = 10000

// Friend is a single entry in the local friend roster.
type Friend struct {
	UserID uint64
	Name   string
	DBName string // 16 hex chars, names the per-friend message DB file under msg/
	Pub    identkeys.PublicKey
	Status Status
}

// Store is the friend roster backed by friends.db.
type Store struct {
	db *store.DB
}

// Open opens (or creates) the friends.db at path, keyed by
// DeriveKey(masterKey, salt=accountUserID, 16).
func Open(path string, masterKey []byte, accountUserID uint64) (*Store, error) {
	salt := make([]byte, 8)
	for i := 0; i < 8; i++ {
		salt[7-i] = byte(accountUserID >> (8 * i))
	}
	key := retrocrypto.DeriveKey(string(masterKey), salt, 16, friendDBKeyIterations)
	db, err := store.Open(path, fmt.Sprintf("%x", key))
	if err != nil {
		return nil, fmt.Errorf("friend: open friends db: %w: %w", retroerr.ErrDBError, err)
	}
	return &Store{db: db}, nil
}

// Close releases the friends.db handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Add inserts a new friend, picking a random, unused 16-hex-digit
// dbname for its per-conversation message DB ('s
// get_random_dbname, capped at maxDBNameAttempts).
func (s *Store) Add(userID uint64, name string, pub identkeys.PublicKey) (*Friend, error) {
	dbname, err := s.randomDBName()
	if err != nil {
		return nil, err
	}

	rsaPEM, edPEM, err := splitPublicPEM(pub)
	if err != nil {
		return nil, err
	}

	row := store.FriendRow{
		UserID: userID,
		Name:   name,
		DBName: dbname,
		RSAPem: rsaPEM,
		ECPem:  edPEM,
		Status: int(StatusUnknown),
	}
	if err := s.db.PutFriendRow(row); err != nil {
		return nil, fmt.Errorf("friend: add: %w: %w", retroerr.ErrDBError, err)
	}
	return &Friend{UserID: userID, Name: name, DBName: dbname, Pub: pub, Status: StatusUnknown}, nil
}

// DeleteByID removes a friend from the roster.
func (s *Store) DeleteByID(userID uint64) error {
	if err := s.db.DeleteFriendByID(userID); err != nil {
		return fmt.Errorf("friend: delete: %w: %w", retroerr.ErrDBError, err)
	}
	return nil
}

// LoadAll returns every friend in the roster.
func (s *Store) LoadAll() ([]*Friend, error) {
	rows, err := s.db.LoadAllFriends()
	if err != nil {
		return nil, fmt.Errorf("friend: load all: %w: %w", retroerr.ErrDBError, err)
	}
	out := make([]*Friend, 0, len(rows))
	for _, r := range rows {
		pub, err := joinPublicPEM(r.RSAPem, r.ECPem)
		if err != nil {
			return nil, fmt.Errorf("friend: parse identity for %s: %w", r.Name, err)
		}
		out = append(out, &Friend{
			UserID: r.UserID,
			Name:   r.Name,
			DBName: r.DBName,
			Pub:    pub,
			Status: Status(r.Status),
		})
	}
	return out, nil
}

// SetStatus updates a friend's cached presence status, called from
// the session layer when a T_FRIEND_ONLINE/OFFLINE/UNKNOWN packet
// arrives.
func (s *Store) SetStatus(userID uint64, status Status) error {
	return s.db.SetFriendStatus(userID, int(status))
}

func (s *Store) randomDBName() (string, error) {
	for i := 0; i < maxDBNameAttempts; i++ {
		b, err := retrocrypto.Random(8)
		if err != nil {
			return "", err
		}
		name := hex.EncodeToString(b)
		exists, err := s.db.DBNameExists(name)
		if err != nil {
			return "", fmt.Errorf("friend: check dbname: %w: %w", retroerr.ErrDBError, err)
		}
		if !exists {
			return name, nil
		}
	}
	return "", retroerr.ErrNameExhausted
}

func splitPublicPEM(pub identkeys.PublicKey) (rsaPEM, edPEM string, err error) {
	full := pub.EncodePublicPEM()
	idx := indexAfterFirstBlock(full)
	if idx < 0 {
		return "", "", fmt.Errorf("friend: malformed public pem encoding")
	}
	return string(full[:idx]), string(full[idx:]), nil
}

func indexAfterFirstBlock(pemData []byte) int {
	const marker = "-----END"
	i := indexOf(pemData, []byte(marker))
	if i < 0 {
		return -1
	}
	j := indexOf(pemData[i:], []byte("\n"))
	if j < 0 {
		return -1
	}
	return i + j + 1
}

func indexOf(haystack, needle []byte) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

func joinPublicPEM(rsaPEM, edPEM string) (identkeys.PublicKey, error) {
	return identkeys.ParsePublicPEM([]byte(rsaPEM + edPEM))
}
