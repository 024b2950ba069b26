// testpg runs a command against a throwaway embedded Postgres, exported to
// the child through TEST_DATABASE_URL. It exists so integration tests run
// without Docker or a local Postgres install.
//
// Usage: go run ./internal/testutil/cmd/testpg -- go test -tags=integration -count=1 ./...
package main

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/numlease/numlease/internal/testutil"
)

func main() {
	args := os.Args[1:]
	if len(args) > 0 && args[0] == "--" {
		args = args[1:]
	}
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: testpg [--] <command> [args...]")
		os.Exit(1)
	}

	var pgLog io.Writer
	if os.Getenv("TESTPG_VERBOSE") != "" {
		pgLog = os.Stderr
	}
	url, stop, err := testutil.StartEmbedded(pgLog)
	if err != nil {
		fmt.Fprintf(os.Stderr, "testpg: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "testpg: TEST_DATABASE_URL=%s\n", url)

	cmd := exec.Command(args[0], args[1:]...) //nolint:gosec
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), "TEST_DATABASE_URL="+url)

	// Forward Ctrl+C / SIGTERM to the child; it decides how to die, and
	// Postgres is stopped on the way out either way.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for sig := range sigCh {
			if cmd.Process != nil {
				_ = cmd.Process.Signal(sig)
			}
		}
	}()

	runErr := cmd.Run()
	signal.Stop(sigCh)
	stop()

	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			os.Exit(exitErr.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "testpg: %v\n", runErr)
		os.Exit(1)
	}
}
