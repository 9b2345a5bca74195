package main

import (
	"context"
	"flag"
	"fmt"
	"time"
)

const (
	defaultRequeueAge   = 30 * time.Minute
	defaultRequeueLimit = 500
)

// requeue re-dispatches items that have been processing longer than
// --older-than. Items the worker already finished are skipped by the
// worker itself, so running it twice is harmless.
func (c *cli) requeue(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("requeue", flag.ContinueOnError)
	fs.SetOutput(c.errOut)
	olderThan := fs.Duration("older-than", defaultRequeueAge, "only items created at least this long ago")
	limit := fs.Int("limit", defaultRequeueLimit, "maximum number of items to re-dispatch")
	dryRun := fs.Bool("dry-run", false, "list the items without dispatching")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *olderThan <= 0 || *limit <= 0 {
		fmt.Fprintln(c.errOut, "Error: --older-than and --limit must be positive")
		return 1
	}

	listCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	items, err := c.db.ListStuckProcessing(listCtx, time.Now().Add(-*olderThan), *limit)
	cancel()
	if err != nil {
		fmt.Fprintf(c.errOut, "Error: Failed to list stuck items: %v\n", err)
		return 1
	}
	if len(items) == 0 {
		fmt.Fprintf(c.out, "No items processing for longer than %s.\n", *olderThan)
		return 0
	}

	if *dryRun {
		for _, item := range items {
			fmt.Fprintf(c.out, "%s\t%s\t%s\n", item.ID, item.CreatedAt.Format(time.RFC3339), item.StorageKey)
		}
		fmt.Fprintf(c.out, "%d items would be re-dispatched.\n", len(items))
		return 0
	}

	d, err := c.dispatcher(ctx)
	if err != nil {
		fmt.Fprintf(c.errOut, "Error: Failed to open dispatcher: %v\n", err)
		return 1
	}
	defer d.Close()

	failed := 0
	for _, item := range items {
		if ctx.Err() != nil {
			fmt.Fprintln(c.errOut, "Interrupted.")
			return 1
		}
		if err := d.Dispatch(ctx, item.ID); err != nil {
			fmt.Fprintf(c.errOut, "Failed to dispatch %s: %v\n", item.ID, err)
			failed++
			continue
		}
		fmt.Fprintf(c.out, "Dispatched %s (%s)\n", item.ID, item.StorageKey)
	}

	fmt.Fprintf(c.out, "Re-dispatched %d of %d items via %s.\n", len(items)-failed, len(items), d.Mode())
	if failed > 0 {
		return 1
	}
	return 0
}
