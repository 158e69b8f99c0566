// divvy-cache is a maintenance tool for the local transaction cache.
//
// Usage:
//
//	divvy-cache stats
//	divvy-cache read <group-id> [-from YYYY-MM-DD] [-to YYYY-MM-DD]
//	divvy-cache sync-state <group-id>
//	divvy-cache clear-group <group-id>
//	divvy-cache clear-all
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"divvy/internal/config"
	"divvy/internal/log"
	"divvy/internal/txcache"
)

func main() {
	_ = godotenv.Load()

	logger := log.New(log.Config{Component: log.ComponentCLI})
	log.SetDefault(logger)

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(1)
	}

	cache, err := txcache.Open(cfg.CachePath, txcache.Options{
		MaxRecords: cfg.MaxRecords,
		EvictBatch: cfg.EvictBatch,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "open cache:", err)
		os.Exit(1)
	}
	defer cache.Close()

	ctx := context.Background()
	if err := run(ctx, cache, os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cache *txcache.Cache, cmd string, args []string) error {
	switch cmd {
	case "stats":
		n, err := cache.Count(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("cache: %s\nrecords: %d\n", cache.Path(), n)
		return nil

	case "read":
		return readCmd(ctx, cache, args)

	case "sync-state":
		if len(args) != 1 {
			return fmt.Errorf("usage: divvy-cache sync-state <group-id>")
		}
		state, err := cache.GetSyncState(ctx, args[0])
		if err != nil {
			return err
		}
		if state == nil {
			fmt.Println("no sync state recorded")
			return nil
		}
		fmt.Printf("group: %s\nlast sync: %s\n", state.GroupID, time.UnixMilli(state.LastSyncTS).UTC().Format(time.RFC3339))
		for member, ts := range state.MemberSyncTS {
			fmt.Printf("  %s: %s\n", member, time.UnixMilli(ts).UTC().Format(time.RFC3339))
		}
		return nil

	case "clear-group":
		if len(args) != 1 {
			return fmt.Errorf("usage: divvy-cache clear-group <group-id>")
		}
		if err := cache.ClearGroup(ctx, args[0]); err != nil {
			return err
		}
		if err := cache.DeleteSyncState(ctx, args[0]); err != nil {
			return err
		}
		fmt.Println("cleared group", args[0])
		return nil

	case "clear-all":
		if err := cache.Destroy(); err != nil {
			return err
		}
		fmt.Println("cache destroyed")
		return nil

	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func readCmd(ctx context.Context, cache *txcache.Cache, args []string) error {
	fs := flag.NewFlagSet("read", flag.ContinueOnError)
	from := fs.String("from", "", "start date (YYYY-MM-DD)")
	to := fs.String("to", "", "end date (YYYY-MM-DD)")
	if len(args) < 1 {
		return fmt.Errorf("usage: divvy-cache read <group-id> [-from ...] [-to ...]")
	}
	groupID := args[0]
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	r, err := parseRange(*from, *to)
	if err != nil {
		return err
	}

	txs, err := cache.Read(ctx, groupID, r)
	if err != nil {
		return err
	}
	for _, tx := range txs {
		date := "----------"
		if !tx.Date.IsZero() {
			date = tx.Date.Format("2006-01-02")
		}
		fmt.Printf("%s  %-12s  %8.2f  %s\n", date, tx.OwnerID, tx.Amount.Euros(), tx.Description)
	}
	fmt.Printf("%d transaction(s)\n", len(txs))
	return nil
}

func parseRange(from, to string) (*txcache.DateRange, error) {
	if from == "" && to == "" {
		return nil, nil
	}
	var r txcache.DateRange
	var err error
	if from != "" {
		if r.Start, err = time.Parse("2006-01-02", from); err != nil {
			return nil, fmt.Errorf("bad -from date: %w", err)
		}
	}
	if to != "" {
		if r.End, err = time.Parse("2006-01-02", to); err != nil {
			return nil, fmt.Errorf("bad -to date: %w", err)
		}
	}
	return &r, nil
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: divvy-cache <command>

commands:
  stats                     total cached record count
  read <group-id>           list cached transactions (use -from/-to to bound dates)
  sync-state <group-id>     show sync cursors for a group
  clear-group <group-id>    drop one group's cached data and sync state
  clear-all                 destroy the whole cache database`)
}
