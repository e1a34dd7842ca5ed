package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/lukwies/libretro/internal/filetransfer"
	"github.com/lukwies/libretro/internal/msghandler"
	"github.com/lukwies/libretro/internal/msgstore"
	"github.com/lukwies/libretro/internal/netconn"
	"github.com/lukwies/libretro/internal/termcolor"
	"github.com/lukwies/libretro/internal/protocol"
	"github.com/lukwies/libretro/internal/retrocrypto"
	"github.com/lukwies/libretro/internal/session"
	"github.com/lukwies/libretro/internal/store"
)

func runUpload(args []string) {
	if err := doUpload(args, os.Stdout); err != nil {
		termcolor.Red("Error: %v", err)
		osExit(1)
	}
}

func doUpload(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("upload", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	home := fs.String("home", "", "account home directory")
	configFlag := fs.String("config", "", "path to config file")
	to := fs.String("to", "", "recipient friend name")
	file := fs.String("file", "", "path of the file to send")
	if err := fs.Parse(reorderArgs(args, nil)); err != nil {
		return err
	}
	if *home == "" || *to == "" || *file == "" {
		return fmt.Errorf("usage: retro upload --home <path> --to <friend> --file <path>")
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

	data, err := os.ReadFile(*file)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	fileConn, err := netconn.Dial(netconn.DialOptions{Host: cfg.ServerHost, Port: cfg.FilePort, CAFile: cfg.CAFile})
	if err != nil {
		return fmt.Errorf("connect to file port: %w", err)
	}
	defer fileConn.Close()

	fileID, err := retrocrypto.Random(filetransfer.FileIDSize)
	if err != nil {
		return err
	}
	key, err := filetransfer.Upload(fileConn, fileID, data)
	if err != nil {
		return fmt.Errorf("upload file: %w", err)
	}

	mainConn, err := netconn.Dial(netconn.DialOptions{Host: cfg.ServerHost, Port: cfg.ServerPort, CAFile: cfg.CAFile})
	if err != nil {
		return fmt.Errorf("connect to relay: %w", err)
	}
	defer mainConn.Close()
	if err := session.Login(mainConn, acc.UserID, acc.Priv); err != nil {
		return fmt.Errorf("login: %w", err)
	}

	meta := msghandler.FileMsgPayload{
		FileID:   hex.EncodeToString(fileID),
		Filename: filepath.Base(*file),
		Key:      filetransfer.EncodeKey(key),
		Size:     int64(len(data)),
	}
	env, err := msghandler.MakeFileMsg(acc.UserID, f.UserID, acc.Priv, f.Pub, meta)
	if err != nil {
		return fmt.Errorf("build file envelope: %w", err)
	}
	if err := mainConn.SendPacket(protocol.TFileMsg, env.Encode()); err != nil {
		return fmt.Errorf("send file envelope: %w", err)
	}
	if _, err := mainConn.RecvPacket(); err != nil {
		return fmt.Errorf("recv ack: %w", err)
	}

	msgs := msgstore.Open(filepath.Join(*home, "msg"), acc.MasterKey)
	defer msgs.Close()
	now := time.Now()
	if _, err := msgs.AddFile(f.UserID, f.DBName, msgstore.DirOutgoing,
		fmt.Sprintf("file: %s", meta.Filename), now, store.FileRow{
			FileID: meta.FileID, Filename: meta.Filename, Size: meta.Size, AESKey: meta.Key,
			Direction: msgstore.DirOutgoing, Time: now.Unix(),
		}); err != nil {
		return fmt.Errorf("record file: %w", err)
	}

	fmt.Fprintf(stdout, "Sent %s (%s) to %s\n", meta.Filename, filetransfer.FormatSize(meta.Size), f.Name)
	return nil
}

func runDownload(args []string) {
	if err := doDownload(args, os.Stdout); err != nil {
		termcolor.Red("Error: %v", err)
		osExit(1)
	}
}

func doDownload(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("download", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	home := fs.String("home", "", "account home directory")
	configFlag := fs.String("config", "", "path to config file")
	from := fs.String("from", "", "sender friend name")
	fileID := fs.String("fileid", "", "file id (hex) from the T_FILEMSG announcement")
	out := fs.String("out", "", "output path")
	if err := fs.Parse(reorderArgs(args, nil)); err != nil {
		return err
	}
	if *home == "" || *from == "" || *fileID == "" || *out == "" {
		return fmt.Errorf("usage: retro download --home <path> --from <friend> --fileid <id> --out <path>")
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

	f, err := findFriend(fstore, *from)
	if err != nil {
		return err
	}

	msgs := msgstore.Open(filepath.Join(*home, "msg"), acc.MasterKey)
	defer msgs.Close()

	files, err := msgs.GetFiles(f.UserID, f.DBName)
	if err != nil {
		return fmt.Errorf("read file records: %w", err)
	}
	var rec *store.FileRow
	for i := range files {
		if files[i].FileID == *fileID {
			rec = &files[i]
			break
		}
	}
	if rec == nil {
		return fmt.Errorf("no such file id recorded for %s", f.Name)
	}

	rawID, err := hex.DecodeString(*fileID)
	if err != nil {
		return fmt.Errorf("invalid --fileid: %w", err)
	}
	key, err := filetransfer.DecodeKey(rec.AESKey)
	if err != nil {
		return fmt.Errorf("invalid stored aes key: %w", err)
	}

	fileConn, err := netconn.Dial(netconn.DialOptions{Host: cfg.ServerHost, Port: cfg.FilePort, CAFile: cfg.CAFile})
	if err != nil {
		return fmt.Errorf("connect to file port: %w", err)
	}
	defer fileConn.Close()

	plaintext, err := filetransfer.Download(fileConn, rawID, key)
	if err != nil {
		return fmt.Errorf("download file: %w", err)
	}
	if err := os.WriteFile(*out, plaintext, 0600); err != nil {
		return fmt.Errorf("write output file: %w", err)
	}
	if err := msgs.SetFileDownloaded(f.UserID, f.DBName, *fileID); err != nil {
		return fmt.Errorf("record download: %w", err)
	}

	fmt.Fprintf(stdout, "Downloaded %s (%s) to %s\n", rec.Filename, filetransfer.FormatSize(int64(len(plaintext))), *out)
	return nil
}
