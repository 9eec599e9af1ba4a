package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/astromechza/geochat/pkg/anchor"
	"github.com/astromechza/geochat/pkg/position"
	"github.com/astromechza/geochat/pkg/session"
	"github.com/astromechza/geochat/pkg/store"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	addrVar := flag.String("addr", "http://127.0.0.1:8080", "the base url of the geochatd server")
	latVar := flag.Float64("lat", 0, "the latitude of the device")
	lngVar := flag.Float64("lng", 0, "the longitude of the device")
	listVar := flag.Bool("list", false, "list all anchors and exit")
	followVar := flag.Bool("follow", false, "stream anchor snapshots until interrupted")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{})))

	remote, err := store.NewRemote(*addrVar)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *listVar {
		snapshot, err := remote.All(ctx)
		if err != nil {
			return fmt.Errorf("failed to fetch anchors: %w", err)
		}
		printSnapshot(snapshot)
		return nil
	}

	if *followVar {
		ch, err := remote.Watch(ctx)
		if err != nil {
			return fmt.Errorf("failed to watch anchors: %w", err)
		}
		go func() {
			exit := make(chan os.Signal, 1) // we need to reserve to buffer size 1, so the notifier are not blocked
			signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
			<-exit
			cancel()
		}()
		for snapshot := range ch {
			printSnapshot(snapshot)
		}
		return nil
	}

	text := strings.Join(flag.Args(), " ")
	if !isFlagSet("lat") || !isFlagSet("lng") {
		return fmt.Errorf("a position is required to post: pass -lat and -lng")
	}

	tracker := position.NewTracker()
	tracker.Update(position.Fix{Latitude: *latVar, Longitude: *lngVar, Timestamp: time.Now().UnixMilli()})

	sess := session.New(remote, tracker)
	if err := sess.Refresh(ctx); err != nil {
		slog.Warn("failed to refresh anchors, resolving against an empty cache", "err", err)
	}

	out := sess.Submit(ctx, text)
	switch out.Status {
	case session.StatusAccepted:
		if out.Merged {
			slog.Info("message merged into existing anchor", "anchor", out.AnchorID)
		} else {
			slog.Info("message posted to new anchor", "anchor", out.AnchorID)
		}
		return nil
	case session.StatusRejected:
		return fmt.Errorf("message rejected: %w", out.Reason)
	default:
		return fmt.Errorf("message failed: %w", out.Reason)
	}
}

func isFlagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func printSnapshot(snapshot map[string]anchor.Anchor) {
	ids := make([]string, 0, len(snapshot))
	for id := range snapshot {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	fmt.Printf("%d anchors:\n", len(ids))
	for _, id := range ids {
		a := snapshot[id]
		fmt.Printf("  %s (%.5f, %.5f) %d messages\n", id, a.Latitude, a.Longitude, len(a.Messages))
		for _, m := range a.Messages {
			fmt.Printf("    %s %s\n", time.UnixMilli(m.Timestamp).Format(time.RFC3339), m.Text)
		}
	}
}
