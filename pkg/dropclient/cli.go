package dropclient

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
)

const defaultBaseURL = "http://localhost:8080"

// RunCLI dispatches a dropctl subcommand. Output goes to stdout, errors to
// stderr.
func RunCLI(prog string, args []string, stdout, stderr io.Writer) error {
	if len(args) < 1 {
		return UsageError{Program: prog}
	}
	if stdout == nil {
		stdout = os.Stdout
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cmd := args[0]
	rest := args[1:]
	var err error
	switch cmd {
	case "bind":
		err = runBind(ctx, rest, stdout)
	case "send":
		err = runSend(ctx, rest, stdout)
	case "receive":
		err = runReceive(ctx, rest, stdout)
	case "fetch":
		err = runFetch(ctx, rest, stdout)
	default:
		return UsageError{Program: prog}
	}
	if err != nil {
		if stderr == nil {
			stderr = os.Stderr
		}
		fmt.Fprintf(stderr, "error: %v\n", err)
	}
	return err
}

type UsageError struct {
	Program string
}

func (u UsageError) Error() string {
	if u.Program == "" {
		u.Program = "dropctl"
	}
	return fmt.Sprintf("Usage: %s <command> [options]", u.Program)
}

func (UsageError) UsageLines() []string {
	return []string{
		"Commands:",
		"  bind      Declare an intent (upload|download) for a scanned identifier",
		"  send      Bind for upload and send files to the paired browser",
		"  receive   Bind for download and save files the browser sends",
		"  fetch     Download one staged file by content key",
	}
}

func commonFlags(name string) (*flag.FlagSet, *string, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	baseURL := fs.String("url", getenv("DROPCTL_URL", defaultBaseURL), "qrdrop server base URL")
	id := fs.String("id", os.Getenv("DROPCTL_ID"), "identifier scanned from the QR code")
	return fs, baseURL, id
}

func requireID(id string) error {
	if id == "" {
		return errors.New("missing -id (or DROPCTL_ID)")
	}
	return nil
}

func runBind(ctx context.Context, args []string, stdout io.Writer) error {
	fs, baseURL, id := commonFlags("bind")
	intent := fs.String("what", IntentDownload, "intent: upload or download")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireID(*id); err != nil {
		return err
	}
	res, err := New(*baseURL, *id).Bind(ctx, *intent)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "bound %s: intent=%s browser=%s\n", res.ID, res.Intent, res.State)
	return nil
}

func runSend(ctx context.Context, args []string, stdout io.Writer) error {
	fs, baseURL, id := commonFlags("send")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireID(*id); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("send: no files given")
	}
	c := New(*baseURL, *id)
	if _, err := c.Bind(ctx, IntentUpload); err != nil {
		return fmt.Errorf("bind: %w", err)
	}
	files, err := c.Send(ctx, fs.Args())
	if err != nil {
		return err
	}
	for _, f := range files {
		fmt.Fprintf(stdout, "sent %s (%d bytes)\n", f.Name, f.Size)
	}
	return nil
}

func runReceive(ctx context.Context, args []string, stdout io.Writer) error {
	fs, baseURL, id := commonFlags("receive")
	dir := fs.String("dir", ".", "directory to save files into")
	rounds := fs.Int("rounds", 10, "how many long-polls to wait before giving up")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireID(*id); err != nil {
		return err
	}
	c := New(*baseURL, *id)
	if _, err := c.Bind(ctx, IntentDownload); err != nil {
		return fmt.Errorf("bind: %w", err)
	}
	files, err := c.Await(ctx, *rounds)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Fprintln(stdout, "no files arrived")
		return nil
	}
	for _, f := range files {
		path, err := c.Fetch(ctx, f, *dir)
		if err != nil {
			return fmt.Errorf("fetch %s: %w", f.Name, err)
		}
		fmt.Fprintf(stdout, "saved %s\n", path)
	}
	return nil
}

func runFetch(ctx context.Context, args []string, stdout io.Writer) error {
	fs, baseURL, id := commonFlags("fetch")
	key := fs.String("key", "", "content key of the file")
	name := fs.String("name", "download", "local file name")
	dir := fs.String("dir", ".", "directory to save into")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireID(*id); err != nil {
		return err
	}
	if *key == "" {
		return errors.New("fetch: missing -key")
	}
	path, err := New(*baseURL, *id).Fetch(ctx, File{ID: *key, Name: *name}, *dir)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "saved %s\n", path)
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
