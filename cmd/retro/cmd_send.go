package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/lukwies/libretro/internal/msghandler"
	"github.com/lukwies/libretro/internal/msgstore"
	"github.com/lukwies/libretro/internal/netconn"
	"github.com/lukwies/libretro/internal/termcolor"
	"github.com/lukwies/libretro/internal/protocol"
	"github.com/lukwies/libretro/internal/session"
)

func runSend(args []string) {
	if err := doSend(args, os.Stdout); err != nil {
		termcolor.Red("Error: %v", err)
		osExit(1)
	}
}

func doSend(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	home := fs.String("home", "", "account home directory")
	configFlag := fs.String("config", "", "path to config file")
	to := fs.String("to", "", "recipient friend name")
	text := fs.String("text", "", "message text")
	if err := fs.Parse(reorderArgs(args, nil)); err != nil {
		return err
	}
	if *home == "" || *to == "" || *text == "" {
		return fmt.Errorf("usage: retro send --home <path> --to <friend> --text <msg>")
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

	fstore, err := openFriends(*home, acc)
	if err != nil {
		return fmt.Errorf("open friends db: %w", err)
	}
	defer fstore.Close()

	f, err := findFriend(fstore, *to)
	if err != nil {
		return err
	}

	conn, err := netconn.Dial(netconn.DialOptions{Host: cfg.ServerHost, Port: cfg.ServerPort, CAFile: cfg.CAFile})
	if err != nil {
		return fmt.Errorf("connect to relay: %w", err)
	}
	defer conn.Close()

	if err := session.Login(conn, acc.UserID, acc.Priv); err != nil {
		return fmt.Errorf("login: %w", err)
	}

	env, err := msghandler.MakeMsg(acc.UserID, f.UserID, acc.Priv, f.Pub, []byte(*text))
	if err != nil {
		return fmt.Errorf("build envelope: %w", err)
	}
	if err := conn.SendPacket(protocol.TChatMsg, env.Encode()); err != nil {
		return fmt.Errorf("send envelope: %w", err)
	}
	pkt, err := conn.RecvPacket()
	if err != nil {
		return fmt.Errorf("recv ack: %w", err)
	}
	if pkt.Type != protocol.TSuccess {
		return fmt.Errorf("relay rejected message")
	}

	store := msgstore.Open(filepath.Join(*home, "msg"), acc.MasterKey)
	defer store.Close()
	if _, err := store.AddMessage(f.UserID, f.DBName, msgstore.DirOutgoing, *text, time.Now()); err != nil {
		return fmt.Errorf("record sent message: %w", err)
	}

	fmt.Fprintf(stdout, "Sent to %s\n", f.Name)
	return nil
}
