package main

import (
	"context"
	"fmt"
	"sort"
)

func (c *cli) status(ctx context.Context) int {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	hasUsers, err := c.db.HasUsers(ctx)
	if err != nil {
		fmt.Fprintf(c.errOut, "Error: %v\n", err)
		return 1
	}
	if !hasUsers {
		fmt.Fprintln(c.out, "Users: none (create one with galleryctl user add)")
	}

	stats, err := c.db.GetStats(ctx)
	if err != nil {
		fmt.Fprintf(c.errOut, "Error: Failed to read stats: %v\n", err)
		return 1
	}

	kinds := make([]string, 0, len(stats.Items))
	for kind := range stats.Items {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		byStatus := stats.Items[kind]
		fmt.Fprintf(c.out, "%-6s processing=%d ready=%d error=%d\n",
			kind, byStatus["processing"], byStatus["ready"], byStatus["error"])
	}
	fmt.Fprintf(c.out, "Stored bytes:    %d\n", stats.TotalBytes)
	fmt.Fprintf(c.out, "Favorites:       %d\n", stats.Favorites)
	fmt.Fprintf(c.out, "Active sessions: %d\n", stats.ActiveSessions)
	return 0
}
