package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/lukwies/libretro/internal/account"
	"github.com/lukwies/libretro/internal/friend"
)

// openAccount loads the account at home, prompting for its passphrase.
func openAccount(home string) (*account.Account, error) {
	salt, err := os.ReadFile(filepath.Join(home, "salt"))
	if err != nil {
		return nil, fmt.Errorf("read salt file: %w", err)
	}
	passphrase, err := promptPassword("Passphrase: ")
	if err != nil {
		return nil, err
	}
	return account.Load(filepath.Join(home, "account.db"), passphrase, salt)
}

// openFriends opens the friend roster tied to acc.
func openFriends(home string, acc *account.Account) (*friend.Store, error) {
	return friend.Open(filepath.Join(home, "friends.db"), acc.MasterKey, acc.UserID)
}

// findFriend looks up a friend by display name.
func findFriend(fs *friend.Store, name string) (*friend.Friend, error) {
	all, err := fs.LoadAll()
	if err != nil {
		return nil, err
	}
	for _, f := range all {
		if f.Name == name {
			return f, nil
		}
	}
	return nil, fmt.Errorf("no such friend: %s", name)
}
