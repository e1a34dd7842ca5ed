package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/lukwies/libretro/internal/account"
	"github.com/lukwies/libretro/internal/netconn"
	"github.com/lukwies/libretro/internal/termcolor"
	"github.com/lukwies/libretro/internal/retrocrypto"
	"github.com/lukwies/libretro/internal/session"
)

func runRegister(args []string) {
	if err := doRegister(args, os.Stdout); err != nil {
		termcolor.Red("Error: %v", err)
		osExit(1)
	}
}

func doRegister(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	home := fs.String("home", "", "account home directory (default ~/.retro)")
	name := fs.String("name", "", "display name for the new account")
	configFlag := fs.String("config", "", "path to config file")
	regkeyHex := fs.String("regkey", "", "hex-encoded 32-byte one-shot registration token")
	if err := fs.Parse(reorderArgs(args, nil)); err != nil {
		return err
	}
	if *name == "" {
		return fmt.Errorf("usage: retro register --name <user> --regkey <hex> [--home path]")
	}

	cfg, err := loadConfig(*configFlag)
	if err != nil {
		return err
	}
	if *home == "" {
		*home = cfg.Home
	}

	passphrase, err := promptPassword("New account passphrase: ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(*home, 0700); err != nil {
		return fmt.Errorf("create home dir: %w", err)
	}
	salt, err := retrocrypto.Random(16)
	if err != nil {
		return err
	}
	saltPath := filepath.Join(*home, "salt")
	if err := os.WriteFile(saltPath, salt, 0600); err != nil {
		return fmt.Errorf("write salt file: %w", err)
	}

	acc, err := account.Create(filepath.Join(*home, "account.db"), *name, passphrase, salt)
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	defer acc.Close()

	conn, err := netconn.Dial(netconn.DialOptions{
		Host:   cfg.ServerHost,
		Port:   cfg.ServerPort,
		CAFile: cfg.CAFile,
	})
	if err != nil {
		return fmt.Errorf("connect to relay: %w", err)
	}
	defer conn.Close()

	regkey, err := parseRegKey(*regkeyHex)
	if err != nil {
		return err
	}

	userID, err := session.Register(conn, regkey, acc.Priv.Public())
	if err != nil {
		return fmt.Errorf("register with relay: %w", err)
	}

	fmt.Fprintf(stdout, "Registered %s as user id %d\n", *name, userID)
	fmt.Fprintf(stdout, "Account home: %s\n", *home)
	return nil
}

func parseRegKey(hexStr string) ([]byte, error) {
	if hexStr == "" {
		return make([]byte, session.RegKeySize), nil
	}
	b, err := hex.DecodeString(hexStr)
	if err != nil || len(b) != session.RegKeySize {
		return nil, fmt.Errorf("invalid --regkey: must be %d hex bytes", session.RegKeySize)
	}
	return b, nil
}
