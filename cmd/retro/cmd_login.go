package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/lukwies/libretro/internal/netconn"
	"github.com/lukwies/libretro/internal/termcolor"
	"github.com/lukwies/libretro/internal/session"
)

func runLogin(args []string) {
	if err := doLogin(args, os.Stdout); err != nil {
		termcolor.Red("Error: %v", err)
		osExit(1)
	}
}

func doLogin(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	home := fs.String("home", "", "account home directory")
	configFlag := fs.String("config", "", "path to config file")
	if err := fs.Parse(reorderArgs(args, nil)); err != nil {
		return err
	}
	if *home == "" {
		return fmt.Errorf("usage: retro login --home <path>")
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

	conn, err := netconn.Dial(netconn.DialOptions{
		Host:   cfg.ServerHost,
		Port:   cfg.ServerPort,
		CAFile: cfg.CAFile,
	})
	if err != nil {
		return fmt.Errorf("connect to relay: %w", err)
	}
	defer conn.Close()

	if err := session.Login(conn, acc.UserID, acc.Priv); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if err := session.Goodbye(conn); err != nil {
		return fmt.Errorf("goodbye: %w", err)
	}

	fmt.Fprintf(stdout, "Logged in as %s (user id %d)\n", acc.Name, acc.UserID)
	return nil
}
