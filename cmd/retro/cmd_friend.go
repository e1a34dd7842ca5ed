package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/lukwies/libretro/internal/netconn"
	"github.com/lukwies/libretro/internal/termcolor"
	"github.com/lukwies/libretro/internal/session"
)

func runAddFriend(args []string) {
	if err := doAddFriend(args, os.Stdout); err != nil {
		termcolor.Red("Error: %v", err)
		osExit(1)
	}
}

func doAddFriend(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("add-friend", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	home := fs.String("home", "", "account home directory")
	configFlag := fs.String("config", "", "path to config file")
	idStr := fs.String("id", "", "friend's user id")
	name := fs.String("name", "", "local display name for this friend")
	if err := fs.Parse(reorderArgs(args, nil)); err != nil {
		return err
	}
	if *home == "" || *idStr == "" || *name == "" {
		return fmt.Errorf("usage: retro add-friend --home <path> --id <user-id> --name <n>")
	}
	friendID, err := strconv.ParseUint(*idStr, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid --id: %w", err)
	}

	cfg, err := loadConfig(*configFlag)
	if err != nil {
		return err
	}

	acc, err := openAccount(*home)
	if err != nil {
		return fmt.Errorf("open account: %w", err)
	}
	defer acc.Close()

	fs2, err := openFriends(*home, acc)
	if err != nil {
		return fmt.Errorf("open friends db: %w", err)
	}
	defer fs2.Close()

	conn, err := netconn.Dial(netconn.DialOptions{Host: cfg.ServerHost, Port: cfg.ServerPort, CAFile: cfg.CAFile})
	if err != nil {
		return fmt.Errorf("connect to relay: %w", err)
	}
	defer conn.Close()

	if err := session.Login(conn, acc.UserID, acc.Priv); err != nil {
		return fmt.Errorf("login: %w", err)
	}

	pub, err := session.GetPubkey(conn, friendID)
	if err != nil {
		return fmt.Errorf("fetch friend pubkey: %w", err)
	}
	fingerprint, err := pub.Fingerprint()
	if err != nil {
		return fmt.Errorf("compute friend fingerprint: %w", err)
	}

	f, err := fs2.Add(friendID, *name, pub)
	if err != nil {
		return fmt.Errorf("add friend: %w", err)
	}

	fmt.Fprintf(stdout, "Added friend %s (user id %d), conversation db %s\n", f.Name, f.UserID, f.DBName)
	fmt.Fprintf(stdout, "Fingerprint: %s (verify out-of-band before trusting)\n", fingerprint)
	return nil
}
