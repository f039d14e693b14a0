// Command dairyctl enqueues maintenance jobs and inspects the job queue.
//
//	dairyctl trigger -job pricing:cache_refresh -date 2024-03-01
//	dairyctl trigger -job idempotency:cleanup -retention 240h
//	dairyctl queue
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/thiagu-r/dairy-sub000/internal/app"
)

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	if err := run(context.Background(), os.Args[1:], cfg.RedisAddr, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}

func run(ctx context.Context, args []string, redisAddr string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New("usage: dairyctl trigger|queue [flags]")
	}
	switch args[0] {
	case "trigger":
		fs := flag.NewFlagSet("trigger", flag.ContinueOnError)
		job := fs.String("job", "", "job type, e.g. pricing:cache_refresh")
		date := fs.String("date", "", "business day YYYY-MM-DD, empty for today")
		retention := fs.Duration("retention", 0, "idempotency key retention")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		// Validate before touching Redis.
		if _, err := BuildTask(*job, *date, *retention); err != nil {
			return err
		}
		c := NewJobsCLI(redisAddr)
		defer c.Close()
		info, err := c.Trigger(ctx, *job, *date, *retention)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
		return nil
	case "queue":
		c := NewJobsCLI(redisAddr)
		defer c.Close()
		stats, err := c.InspectQueue()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
		scheduled, err := c.ListScheduled(10)
		if err != nil {
			return err
		}
		for _, t := range scheduled {
			fmt.Fprintf(out, "  %s %s at %s\n", t.ID, t.Type, t.NextProcessAt.Format(time.RFC3339))
		}
		return nil
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}
