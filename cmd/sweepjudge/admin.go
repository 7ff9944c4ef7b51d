package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"golang.org/x/term"

	cfnats "github.com/MFaiqKhan/sweepjudge/internal/adapter/nats"
	"github.com/MFaiqKhan/sweepjudge/internal/adapter/postgres"
	"github.com/MFaiqKhan/sweepjudge/internal/config"
	"github.com/MFaiqKhan/sweepjudge/internal/domain/task"
	"github.com/MFaiqKhan/sweepjudge/internal/port/messagequeue"
	"github.com/MFaiqKhan/sweepjudge/internal/service"
)

// runAdmin dispatches admin subcommands.
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "seed":
		return runAdminSeed(args[1:])
	case "status":
		return runAdminStatus(args[1:])
	case "cleanup":
		return runAdminCleanup(args[1:])
	case "retry":
		return runAdminRetry(args[1:])
	case "top":
		return runAdminTop(args[1:])
	case "migrate-version":
		return runAdminMigrateVersion(args[1:])
	case "rollback":
		return runAdminRollback(args[1:])
	case "watch":
		return runAdminWatch(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: sweepjudge admin <command> [options]

Commands:
  seed              Queue a Fetch_Paper task in a new session
  status            Show task counts and the most recent tasks
  cleanup           Delete all queued and in_progress tasks
  retry             Move a failed task back to the queue
  top               Show the karma leaderboard
  migrate-version   Print the applied schema version
  rollback          Roll back schema migrations
  watch             Stream swarm events from NATS until interrupted
  help              Show this help message

Examples:
  sweepjudge admin seed --url https://arxiv.org/pdf/1706.03762
  sweepjudge admin status
  sweepjudge admin retry --id 6f1c...
  sweepjudge admin top --limit 5
  sweepjudge admin rollback --steps 1
  sweepjudge admin watch --subject swarm.karma.recorded
`)
}

type adminDeps struct {
	cfg   *config.Config
	store *postgres.Store
	queue *service.TaskQueue
}

func loadAdminDeps(ctx context.Context) (*adminDeps, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}

	store := postgres.NewStore(pool)
	// Pushes reach a running server through the insert trigger's NOTIFY;
	// the local waker is never driven.
	waker := postgres.NewPollWaker(store.Tasks, cfg.Queue.PollInterval)
	queue := service.NewTaskQueue(store.Tasks, waker, service.NewEvents(nil, nil), cfg.Queue)

	return &adminDeps{cfg: cfg, store: store, queue: queue}, pool.Close, nil
}

func runAdminSeed(args []string) error {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	url := fs.String("url", "", "paper URL (required)")
	session := fs.String("session", "", "session id (default: new uuid)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *url == "" {
		return errors.New("--url is required")
	}
	sessionID := *session
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	ctx := context.Background()
	deps, cleanup, err := loadAdminDeps(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	t := task.New(task.TypeFetchPaper, map[string]any{"url": *url})
	t.SessionID = sessionID
	if err := deps.queue.Push(ctx, t); err != nil {
		return fmt.Errorf("seed: %w", err)
	}

	return output(map[string]string{"task_id": t.ID, "session_id": sessionID}, func(w io.Writer) {
		_, _ = fmt.Fprintf(w, "TASK\tSESSION\n%s\t%s\n", t.ID, sessionID)
	})
}

func runAdminStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	recent := fs.Int("recent", 10, "number of recent tasks to show")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	deps, cleanup, err := loadAdminDeps(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	stats, err := deps.queue.Stats(ctx)
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}
	tasks, err := deps.queue.List(ctx, task.ListFilter{Limit: *recent})
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}

	out := struct {
		Stats  task.QueueStats `json:"stats"`
		Recent []task.Task     `json:"recent"`
	}{stats, tasks}
	return output(out, func(w io.Writer) {
		_, _ = fmt.Fprintln(w, "STATUS\tCOUNT")
		for _, c := range stats.ByStatus {
			_, _ = fmt.Fprintf(w, "%s\t%d\n", c.Status, c.Count)
		}
		_, _ = fmt.Fprintln(w, "\t")
		_, _ = fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tAGENT\tSESSION\tUPDATED")
		for i := range tasks {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				tasks[i].ID, tasks[i].Type, tasks[i].Status, dash(tasks[i].AgentID),
				dash(tasks[i].SessionID), tasks[i].UpdatedAt.Format("2006-01-02 15:04:05"))
		}
	})
}

func runAdminCleanup(args []string) error {
	fs := flag.NewFlagSet("cleanup", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	deps, cleanup, err := loadAdminDeps(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	n, err := deps.queue.Purge(ctx)
	if err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Deleted %d unfinished tasks\n", n)
	return nil
}

func runAdminRetry(args []string) error {
	fs := flag.NewFlagSet("retry", flag.ContinueOnError)
	id := fs.String("id", "", "failed task id (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return errors.New("--id is required")
	}

	ctx := context.Background()
	deps, cleanup, err := loadAdminDeps(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := deps.queue.RetryFailed(ctx, *id); err != nil {
		return fmt.Errorf("retry %s: %w", *id, err)
	}
	fmt.Fprintf(os.Stderr, "Task %s queued again\n", *id)
	return nil
}

func runAdminTop(args []string) error {
	fs := flag.NewFlagSet("top", flag.ContinueOnError)
	limit := fs.Int("limit", 10, "number of agents")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	deps, cleanup, err := loadAdminDeps(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	top, err := deps.store.Karma.Top(ctx, *limit)
	if err != nil {
		return fmt.Errorf("karma top: %w", err)
	}
	return output(top, func(w io.Writer) {
		_, _ = fmt.Fprintln(w, "RANK\tAGENT\tSCORE")
		for i := range top {
			_, _ = fmt.Fprintf(w, "%d\t%s\t%d\n", i+1, top[i].AgentID, top[i].Score)
		}
	})
}

func runAdminMigrateVersion(args []string) error {
	fs := flag.NewFlagSet("migrate-version", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	v, err := postgres.MigrationVersion(context.Background(), cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	return output(map[string]int64{"version": v}, func(w io.Writer) {
		_, _ = fmt.Fprintf(w, "VERSION\n%d\n", v)
	})
}

func runAdminRollback(args []string) error {
	fs := flag.NewFlagSet("rollback", flag.ContinueOnError)
	steps := fs.Int("steps", 1, "number of migrations to roll back")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *steps < 1 {
		return errors.New("--steps must be >= 1")
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()
	if err := postgres.RollbackMigrations(ctx, cfg.Postgres.DSN, *steps); err != nil {
		return err
	}
	v, err := postgres.MigrationVersion(ctx, cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Rolled back %d step(s), now at version %d\n", *steps, v)
	return nil
}

func runAdminWatch(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	subject := fs.String("subject", messagequeue.SubjectAll, "subject filter")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is not configured")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	q, err := cfnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return err
	}
	defer func() { _ = q.Close() }()

	var mu sync.Mutex
	cancel, err := q.Subscribe(ctx, *subject, func(_ context.Context, subj string, data []byte) error {
		mu.Lock()
		defer mu.Unlock()
		return printEvent(os.Stdout, time.Now(), subj, data)
	})
	if err != nil {
		return err
	}
	defer cancel()

	fmt.Fprintf(os.Stderr, "Watching %s (Ctrl-C to stop)\n", *subject)
	<-ctx.Done()
	return nil
}

// printEvent writes one event per line: time, subject, compact payload.
func printEvent(w io.Writer, at time.Time, subject string, data []byte) error {
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		buf.Reset()
		buf.Write(data)
	}
	_, err := fmt.Fprintf(w, "%s %-24s %s\n", at.Format("15:04:05.000"), subject, buf.String())
	return err
}

// output prints a table on a terminal and JSON otherwise.
func output(v any, table func(w io.Writer)) error {
	return writeOutput(os.Stdout, term.IsTerminal(int(os.Stdout.Fd())), v, table) //nolint:gosec // fd fits in int
}

func writeOutput(out io.Writer, tty bool, v any, table func(w io.Writer)) error {
	if !tty {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	table(w)
	return w.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
