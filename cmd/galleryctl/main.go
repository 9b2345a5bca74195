package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"family-gallery/internal/database"
	"family-gallery/internal/dispatch"
	"family-gallery/internal/processor"
	"family-gallery/internal/startup"
	"family-gallery/internal/storage"

	"golang.org/x/term"
)

// Default timeout for database operations
const defaultTimeout = 30 * time.Second

// cli carries the dependencies shared by all commands.
type cli struct {
	db     *database.Database
	out    io.Writer
	errOut io.Writer

	// readPassword prompts for a secret without echo.
	readPassword func(prompt string) ([]byte, error)
	// dispatcher is opened on demand; only requeue needs it.
	dispatcher func(ctx context.Context) (dispatch.Dispatcher, error)
}

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stdout)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nInterrupted, shutting down...")
		cancel()
	}()

	config, err := startup.Parse()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	db, err := database.New(ctx, config.DatabasePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to connect to database: %v\n", err)
		fmt.Fprintf(os.Stderr, "Make sure DATABASE_DIR is set correctly (current: %s)\n", config.DatabaseDir)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close database: %v\n", err)
		}
	}()

	c := &cli{
		db:           db,
		out:          os.Stdout,
		errOut:       os.Stderr,
		readPassword: terminalPassword,
		dispatcher: func(ctx context.Context) (dispatch.Dispatcher, error) {
			return openDispatcher(ctx, config, db)
		},
	}
	if code := c.run(ctx, os.Args[1:]); code != 0 {
		os.Exit(code)
	}
}

// run executes one command and returns the process exit code.
func (c *cli) run(ctx context.Context, args []string) int {
	if len(args) == 0 {
		printUsage(c.out)
		return 1
	}

	switch args[0] {
	case "user":
		if len(args) < 2 {
			printUsage(c.out)
			return 1
		}
		switch args[1] {
		case "add":
			return c.addUser(ctx, args[2:])
		case "reset":
			return c.resetUser(ctx, args[2:])
		case "list":
			return c.listUsers(ctx)
		}
		fmt.Fprintf(c.errOut, "Unknown user command: %s\n", sanitizeCommand(args[1])) //nolint:gosec // sanitized via allowlist
	case "requeue":
		return c.requeue(ctx, args[1:])
	case "status":
		return c.status(ctx)
	case "help", "-h", "--help":
		printUsage(c.out)
		return 0
	default:
		fmt.Fprintf(c.errOut, "Unknown command: %s\n", sanitizeCommand(args[0])) //nolint:gosec // sanitized via allowlist
	}
	printUsage(c.out)
	return 1
}

// sanitizeCommand returns a safe representation of a command string for display.
// Any character outside [a-zA-Z0-9_-] is replaced with '_'.
func sanitizeCommand(cmd string) string {
	var b strings.Builder
	b.Grow(len(cmd))
	for _, r := range cmd {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Family Gallery Administration")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Usage: galleryctl <command>")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  user add <email> <display-name> [--admin]  - Create a member (or admin)")
	fmt.Fprintln(w, "  user reset <email>                         - Set a new password, ending all sessions")
	fmt.Fprintln(w, "  user list                                  - List members")
	fmt.Fprintln(w, "  requeue [--older-than=30m] [--limit=N]     - Re-dispatch items stuck in processing")
	fmt.Fprintln(w, "  status                                     - Show registry counts")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Environment:")
	fmt.Fprintln(w, "  DATABASE_DIR - Path to database directory (default: /database)")
	fmt.Fprintln(w, "  Storage and dispatch settings match gallery-server; requeue uses them.")
}

func terminalPassword(prompt string) ([]byte, error) {
	fmt.Print(prompt)
	password, err := term.ReadPassword(int(os.Stdin.Fd())) //nolint:gosec // fd fits in int
	fmt.Println()
	return password, err
}

// openDispatcher builds the dispatcher the server would use. Inline mode
// processes requeued items in this process, so it needs storage too.
func openDispatcher(ctx context.Context, config *startup.Config, db *database.Database) (dispatch.Dispatcher, error) {
	var proc dispatch.Processor
	if dispatch.Mode(config.DispatchMode) == dispatch.ModeInline {
		backend, err := storage.New(ctx, config.StorageConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to open storage: %w", err)
		}
		proc = processor.New(db, backend, nil, processor.Config{
			ScratchDir: config.ScratchDir,
			FFmpegPath: config.FFmpegPath,
		})
	}
	return dispatch.New(ctx, config.DispatchConfig(), proc)
}
