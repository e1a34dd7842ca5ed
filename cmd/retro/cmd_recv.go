package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/lukwies/libretro/internal/msgstore"
	"github.com/lukwies/libretro/internal/termcolor"
)

func runRecv(args []string) {
	if err := doRecv(args, os.Stdout); err != nil {
		termcolor.Red("Error: %v", err)
		osExit(1)
	}
}

func doRecv(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("recv", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	home := fs.String("home", "", "account home directory")
	from := fs.String("from", "", "friend name")
	if err := fs.Parse(reorderArgs(args, nil)); err != nil {
		return err
	}
	if *home == "" || *from == "" {
		return fmt.Errorf("usage: retro recv --home <path> --from <friend>")
	}

	acc, err := openAccount(*home)
	if err != nil {
		return fmt.Errorf("open account: %w", err)
	}
	defer acc.Close()

	fstore, err := openFriends(*home, acc)
	if err != nil {
		return fmt.Errorf("open friends db: %w", err)
	}
	defer fstore.Close()

	f, err := findFriend(fstore, *from)
	if err != nil {
		return err
	}

	store := msgstore.Open(filepath.Join(*home, "msg"), acc.MasterKey)
	defer store.Close()

	msgs, err := store.GetMessages(f.UserID, f.DBName)
	if err != nil {
		return fmt.Errorf("read conversation: %w", err)
	}

	for _, m := range msgs {
		dir := "<-"
		if m.Direction == msgstore.DirOutgoing {
			dir = "->"
		}
		if m.File != nil {
			fmt.Fprintf(stdout, "[%s] %s %s (file: %s, %d bytes, downloaded=%v)\n",
				time.Unix(m.Time, 0).Format(time.RFC3339), dir, m.Body, m.File.Filename, m.File.Size, m.File.Downloaded)
			continue
		}
		fmt.Fprintf(stdout, "[%s] %s %s\n", time.Unix(m.Time, 0).Format(time.RFC3339), dir, m.Body)
	}

	return store.SetAllSeen(f.UserID, f.DBName)
}
