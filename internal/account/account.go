// Package account implements local account lifecycle: creation,
// passphrase-gated loading, and the master-key derivation chain,
// grounded on the reference account design.
package account

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/lukwies/libretro/internal/identkeys"
	"github.com/lukwies/libretro/internal/retrocrypto"
	"github.com/lukwies/libretro/internal/retroerr"
	"github.com/lukwies/libretro/internal/store"
)

// KDF iteration counts. These are load-bearing: changing them
// breaks every account created under the old count.
const (
	iterOpenMasterKey = 10000  // derive key to open the account row the first time
	iterLoadMasterKey = 200000 // re-derive the at-rest "derived" master key after load
)

// MasterKeySize is the size in bytes of the account's session master
// key, from which per-friend and per-DB keys are further derived.
const MasterKeySize = 16

// Account is a loaded local identity: its user ID, display name, and
// key material.
type Account struct {
	UserID uint64
	Name   string
	IsBot  bool

	Priv *identkeys.PrivateKey

	// MasterKey is the session master key derived at load time
	// (iterLoadMasterKey rounds). It seeds the friend-db and
	// per-friend message-db keys.
	MasterKey []byte

	db *store.DB
}

var usernameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]{2,14}[A-Za-z0-9]$`)

// ValidateUsername enforces the reference account design's
// validate_username rule: 4-16 characters, alphanumeric plus `-`/`_`,
// starting with a letter and ending alphanumeric.
func ValidateUsername(name string) error {
	if len(name) < 4 || len(name) > 16 {
		return fmt.Errorf("account: username must be 4-16 characters")
	}
	if !usernameRe.MatchString(name) {
		return fmt.Errorf("account: username must start with a letter, end alphanumeric, and contain only letters, digits, '-' or '_'")
	}
	return nil
}

// ValidatePassword enforces the reference account design's
// validate_password rule: at least two characters from each of
// lowercase, uppercase, digit and "special" classes.
func ValidatePassword(pw string) error {
	var lower, upper, digit, special int
	for _, r := range pw {
		switch {
		case r >= 'a' && r <= 'z':
			lower++
		case r >= 'A' && r <= 'Z':
			upper++
		case r >= '0' && r <= '9':
			digit++
		default:
			special++
		}
	}
	if lower < 2 || upper < 2 || digit < 2 || special < 2 {
		return fmt.Errorf("account: password must contain at least 2 lowercase, 2 uppercase, 2 digit and 2 special characters")
	}
	return nil
}

// Create generates a new identity key pair, validates name and
// passphrase, and writes the account row to a fresh encrypted DB at
// path.
func Create(path, name, passphrase string, salt []byte) (*Account, error) {
	if err := ValidateUsername(name); err != nil {
		return nil, err
	}
	if err := ValidatePassword(passphrase); err != nil {
		return nil, err
	}

	priv, err := identkeys.Generate()
	if err != nil {
		return nil, fmt.Errorf("account: generate identity: %w", err)
	}

	openKey := retrocrypto.DeriveKey(passphrase, salt, 16, iterOpenMasterKey)
	db, err := store.Open(path, fmt.Sprintf("%x", openKey))
	if err != nil {
		return nil, fmt.Errorf("account: open db: %w: %w", retroerr.ErrDBError, err)
	}

	rsaPEM, edPEM, err := splitPrivatePEM(priv)
	if err != nil {
		db.Close()
		return nil, err
	}

	userID := randomUserID()
	if err := db.PutAccountRow(userID, name, false, rsaPEM, edPEM); err != nil {
		db.Close()
		return nil, fmt.Errorf("account: write account row: %w: %w", retroerr.ErrDBError, err)
	}

	masterKey := retrocrypto.DeriveKey(string(openKey), salt, MasterKeySize, iterLoadMasterKey)

	return &Account{
		UserID:    userID,
		Name:      name,
		Priv:      priv,
		MasterKey: masterKey,
		db:        db,
	}, nil
}

// Load opens an existing account DB with passphrase, re-deriving the
// session master key at iterLoadMasterKey rounds.
func Load(path, passphrase string, salt []byte) (*Account, error) {
	openKey := retrocrypto.DeriveKey(passphrase, salt, 16, iterOpenMasterKey)
	db, err := store.Open(path, fmt.Sprintf("%x", openKey))
	if err != nil {
		return nil, fmt.Errorf("account: open db: %w: %w", retroerr.ErrAccountAuthFailed, err)
	}

	row, err := db.GetAccountRow()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("account: read account row: %w: %w", retroerr.ErrAccountCorrupt, err)
	}

	priv, err := joinPrivatePEM(row.RSAPem, row.ECPem)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("account: parse identity: %w: %w", retroerr.ErrAccountCorrupt, err)
	}

	masterKey := retrocrypto.DeriveKey(string(openKey), salt, MasterKeySize, iterLoadMasterKey)

	return &Account{
		UserID:    row.UserID,
		Name:      row.Name,
		IsBot:     row.IsBot,
		Priv:      priv,
		MasterKey: masterKey,
		db:        db,
	}, nil
}

// Close releases the account's underlying database handle.
func (a *Account) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

func splitPrivatePEM(priv *identkeys.PrivateKey) (rsaPEM, edPEM string, err error) {
	full, err := priv.EncodePrivatePEM()
	if err != nil {
		return "", "", err
	}
	parts := strings.SplitN(string(full), "-----END", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("account: malformed pem encoding")
	}
	rsaPEM = parts[0] + "-----END" + strings.SplitN(parts[1], "\n", 2)[0] + "\n"
	edPEM = string(full)[len(rsaPEM):]
	return rsaPEM, edPEM, nil
}

func joinPrivatePEM(rsaPEM, edPEM string) (*identkeys.PrivateKey, error) {
	return identkeys.ParsePrivatePEM([]byte(rsaPEM + edPEM))
}

func randomUserID() uint64 {
	b, err := retrocrypto.Random(8)
	if err != nil {
		// Random only fails if the OS CSPRNG is broken, in which case
		// nothing in this process can proceed safely anyway.
		panic(err)
	}
	var id uint64
	for _, v := range b {
		id = (id << 8) | uint64(v)
	}
	return id
}

// LoadLegacy loads an identity from the pre-account-DB two-block
// key.pem layout. Read-only: the legacy layout is
// never written back out, and no message/friend state is attached.
func LoadLegacy(keyPemPath string, userID uint64, name string) (*Account, error) {
	priv, err := identkeys.LoadLegacyPrivatePEM(keyPemPath)
	if err != nil {
		return nil, fmt.Errorf("account: load legacy key: %w", err)
	}
	return &Account{UserID: userID, Name: name, Priv: priv}, nil
}
