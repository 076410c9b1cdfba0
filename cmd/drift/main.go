// Filedrift CLI
//
// Sub-commands:
//
//	drift sync [flags]    Mirror a local directory onto a bucket prefix
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"runtime/debug"
	"syscall"

	"golang.org/x/term"

	"github.com/filedrift/filedrift/pkg/client"
	"github.com/filedrift/filedrift/pkg/sync"
)

// testPassword is used when no interactive console is attached, so the
// command stays scriptable in CI.
const testPassword = "hi test"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	switch os.Args[1] {
	case "sync":
		cmdSync(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage:
  drift sync --source <dir> --bucket <bucket> --prefix <prefix> --login <username> [--server <url>]

Mirrors the local directory onto the bucket prefix: changed files are
uploaded, remote files without a local counterpart are deleted.`)
}

func cmdSync(args []string) {
	flags := flag.NewFlagSet("sync", flag.ExitOnError)
	source := flags.String("source", "", "Local directory to mirror (required)")
	bucketName := flags.String("bucket", "", "Target bucket (required)")
	prefix := flags.String("prefix", "/", "Remote path prefix")
	login := flags.String("login", "", "Username to log in with (required)")
	serverURL := flags.String("server", "http://localhost:8080", "Server URL")
	flags.Parse(args)

	if *source == "" || *bucketName == "" || *login == "" {
		fmt.Fprintln(os.Stderr, "sync: --source, --bucket and --login are required")
		flags.Usage()
		os.Exit(2)
	}
	if info, err := os.Stat(*source); err != nil || !info.IsDir() {
		fmt.Fprintf(os.Stderr, "sync: source %q is not a directory\n", *source)
		os.Exit(2)
	}

	ctx := context.Background()
	c := client.New(client.Config{BaseURL: *serverURL})
	if err := c.Login(ctx, *login, readPassword()); err != nil {
		fail(err)
	}

	s := sync.New(sync.Options{
		Client: c,
		Bucket: *bucketName,
		Prefix: *prefix,
		Source: *source,
	})
	report, err := s.Sync(ctx)
	if err != nil {
		fail(err)
	}

	fmt.Printf("checked %d, uploaded %d, deleted %d\n",
		len(report.Checked), len(report.Uploaded), len(report.Deleted))
	for _, p := range report.Uploaded {
		fmt.Println("  uploaded", p)
	}
	for _, p := range report.Deleted {
		fmt.Println("  deleted ", p)
	}
}

func readPassword() string {
	if !term.IsTerminal(int(syscall.Stdin)) {
		return testPassword
	}
	fmt.Fprint(os.Stderr, "Password: ")
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading password: %v\n", err)
		os.Exit(1)
	}
	return string(passwordBytes)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n%s", err, debug.Stack())
	os.Exit(1)
}
