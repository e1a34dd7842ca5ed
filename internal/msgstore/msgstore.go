// Package msgstore implements the lazily-opened, idle-evicted cache
// of per-friend conversation databases, grounded on the reference
// message-store design. Each friend's
// messages and file-transfer pointers live in their own encrypted DB
// under msg/<dbname>, opened on first access and closed again after
// sitting idle past idleTimeout.
package msgstore

import (
	"encoding/hex"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/lukwies/libretro/internal/retrocrypto"
	"github.com/lukwies/libretro/internal/retroerr"
	"github.com/lukwies/libretro/internal/store"
)

// perFriendKeyIterations is the iteration count for the per-friend
// conversation-DB key.
const perFriendKeyIterations = 100000

// DefaultIdleTimeout is how long an opened conversation DB sits idle
// before the sweep closes it, matching original's hardcoded 20*60
// seconds.
const DefaultIdleTimeout = 20 * time.Minute

type entry struct {
	db       *store.DB
	lastUsed time.Time
}

// Store is the lazy cache of per-friend conversation databases.
type Store struct {
	dir         string
	masterKey   []byte
	idleTimeout time.Duration

	mu      sync.Mutex
	entries map[string]*entry

	stopSweep chan struct{}
}

// Open creates a Store rooted at msgDir ("msg/" directory),
// deriving each conversation's key from masterKey on demand.
func Open(msgDir string, masterKey []byte) *Store {
	s := &Store{
		dir:         msgDir,
		masterKey:   masterKey,
		idleTimeout: DefaultIdleTimeout,
		entries:     make(map[string]*entry),
		stopSweep:   make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

// SetIdleTimeout overrides the default idle-eviction window, mainly
// for tests.
func (s *Store) SetIdleTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idleTimeout = d
}

// Close stops the eviction sweep and closes every open conversation DB.
func (s *Store) Close() error {
	close(s.stopSweep)
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for name, e := range s.entries {
		if err := e.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.entries, name)
	}
	return firstErr
}

func (s *Store) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopSweep:
			return
		case <-ticker.C:
			s.evictIdle()
		}
	}
}

func (s *Store) evictIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for name, e := range s.entries {
		if now.Sub(e.lastUsed) >= s.idleTimeout {
			e.db.Close()
			delete(s.entries, name)
		}
	}
}

// conversation returns the open DB for friendID, opening it (deriving
// its key from the store's master key) on first access.
func (s *Store) conversation(friendID uint64, dbname string) (*store.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[dbname]; ok {
		e.lastUsed = time.Now()
		return e.db, nil
	}

	salt := friendIDSalt(friendID)
	key := retrocrypto.DeriveKey(string(s.masterKey), salt, 16, perFriendKeyIterations)

	path := filepath.Join(s.dir, dbname)
	db, err := store.Open(path, hex.EncodeToString(key))
	if err != nil {
		return nil, fmt.Errorf("msgstore: open conversation %s: %w: %w", dbname, retroerr.ErrDBError, err)
	}
	s.entries[dbname] = &entry{db: db, lastUsed: time.Now()}
	return db, nil
}

func friendIDSalt(friendID uint64) []byte {
	salt := make([]byte, 8)
	for i := 0; i < 8; i++ {
		salt[7-i] = byte(friendID >> (8 * i))
	}
	return salt
}

// Direction values for stored messages/files.
const (
	DirIncoming = 0
	DirOutgoing = 1
)

// AddMessage appends a message to friendID's conversation.
func (s *Store) AddMessage(friendID uint64, dbname string, direction int, body string, t time.Time) (int64, error) {
	db, err := s.conversation(friendID, dbname)
	if err != nil {
		return 0, err
	}
	return db.InsertMsg(direction, body, t.Unix(), direction == DirOutgoing)
}

// GetMessages returns every message in friendID's conversation.
func (s *Store) GetMessages(friendID uint64, dbname string) ([]store.MsgRow, error) {
	db, err := s.conversation(friendID, dbname)
	if err != nil {
		return nil, err
	}
	return db.GetMsgs()
}

// SetAllSeen marks all incoming messages in friendID's conversation as
// seen.
func (s *Store) SetAllSeen(friendID uint64, dbname string) error {
	db, err := s.conversation(friendID, dbname)
	if err != nil {
		return err
	}
	return db.SetAllSeen()
}

// AddFile records a file-transfer pointer in friendID's conversation,
// alongside the T_FILEMSG message row it was announced in.
func (s *Store) AddFile(friendID uint64, dbname string, direction int, body string, t time.Time, f store.FileRow) (int64, error) {
	db, err := s.conversation(friendID, dbname)
	if err != nil {
		return 0, err
	}
	return db.InsertFileMsg(direction, body, t.Unix(), direction == DirOutgoing, f)
}

// SetFileDownloaded marks a file pointer as downloaded.
func (s *Store) SetFileDownloaded(friendID uint64, dbname, fileID string) error {
	db, err := s.conversation(friendID, dbname)
	if err != nil {
		return err
	}
	return db.SetFileDownloaded(fileID)
}

// GetFiles returns every file-transfer pointer in friendID's
// conversation.
func (s *Store) GetFiles(friendID uint64, dbname string) ([]store.FileRow, error) {
	db, err := s.conversation(friendID, dbname)
	if err != nil {
		return nil, err
	}
	return db.GetFiles()
}
