package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/burugo/syncstore"
	"github.com/burugo/syncstore/internal/courses"
)

var (
	flagState     string
	flagFavorites bool
	flagForce     bool
	flagGrouped   bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fetch every page of the courses listing into the local cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync(cmd.Context(), cmd.OutOrStdout(), app.Env, courseOptions(), flagForce)
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the cached courses without touching the network",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runList(cmd.OutOrStdout(), app.Env, courseOptions(), flagGrouped)
	},
}

var ttlCmd = &cobra.Command{
	Use:   "ttl [cache-key]",
	Short: "Show when a cache key was last refreshed",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := courses.GetCourses(courseOptions()).CacheKey()
		if len(args) == 1 {
			key = args[0]
		}
		return runTTL(cmd.Context(), cmd.OutOrStdout(), app.Env, key)
	},
}

func init() {
	for _, c := range []*cobra.Command{syncCmd, listCmd, ttlCmd} {
		c.Flags().StringVar(&flagState, "state", "", "enrollment state filter (active, invited_or_pending, completed)")
		c.Flags().BoolVar(&flagFavorites, "favorites", false, "only favorite courses")
	}
	syncCmd.Flags().BoolVar(&flagForce, "force", false, "ignore the freshness window")
	listCmd.Flags().BoolVar(&flagGrouped, "by-term", false, "group the output by term")
}

func courseOptions() courses.Options {
	return courses.Options{
		ShowFavorites:   flagFavorites,
		EnrollmentState: courses.EnrollmentState(flagState),
	}
}

// runSync exhausts the listing through a Store and prints what it holds.
func runSync(ctx context.Context, w io.Writer, env *syncstore.Environment, opts courses.Options, force bool) error {
	requestID := uuid.NewString()
	uc := courses.GetCourses(opts)
	store, err := syncstore.NewStore[courses.Course, []courses.APICourse](env, uc, func(e syncstore.Event) {
		if e.Type == syncstore.EventDidChange && len(e.Changes) > 0 {
			env.Logger().Printf("SYNC %s: %d changes, state %s", requestID, len(e.Changes), e.State)
		}
	})
	if err != nil {
		return err
	}
	defer store.Close()

	start := time.Now()
	pages := 0
	err = store.Exhaust(ctx, force, func(res syncstore.Result[[]courses.APICourse]) bool {
		if !res.Cached && !res.Offline {
			pages++
		}
		return true
	})
	if err != nil {
		return fmt.Errorf("sync %s: %w", uc.CacheKey(), err)
	}

	switch {
	case pages == 0 && env.IsOffline():
		fmt.Fprintf(w, "offline: %d cached courses\n", store.Count())
	case pages == 0:
		fmt.Fprintf(w, "cache is fresh: %d courses\n", store.Count())
	default:
		fmt.Fprintf(w, "synced %d courses from %d pages in %s (request %s)\n",
			store.Count(), pages, time.Since(start).Round(time.Millisecond), requestID)
	}
	return nil
}

// runList prints the cached courses, optionally sectioned by term.
func runList(w io.Writer, env *syncstore.Environment, opts courses.Options, byTerm bool) error {
	uc := courses.GetCourses(opts)
	if byTerm {
		uc.Query = uc.Scope().GroupBy("term_name")
		uc.Query.Order = append([]syncstore.SortKey{{Column: "term_name"}}, uc.Query.Order...)
	}
	store, err := syncstore.NewStore[courses.Course, []courses.APICourse](env, uc, nil)
	if err != nil {
		return err
	}
	defer store.Close()

	if store.IsEmpty() {
		fmt.Fprintln(w, "no cached courses; run sync first")
		return nil
	}
	for _, section := range store.Sections() {
		if byTerm {
			name := section.Name
			if name == "" {
				name = "(no term)"
			}
			fmt.Fprintf(w, "%s\n", name)
		}
		for _, c := range section.Objects {
			fav := " "
			if c.IsFavorite {
				fav = "*"
			}
			fmt.Fprintf(w, "%s %-10s %s\n", fav, c.ID, c.Name)
		}
	}
	return nil
}

func runTTL(ctx context.Context, w io.Writer, env *syncstore.Environment, key string) error {
	record, ok, err := env.LastRefresh(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintf(w, "%s: never refreshed\n", key)
		return nil
	}
	age := env.Now().Sub(record.LastRefresh).Round(time.Second)
	state := "fresh"
	if age > env.TTL {
		state = "expired"
	}
	fmt.Fprintf(w, "%s: refreshed %s (%s ago, %s)\n", key, record.LastRefresh.Format(time.RFC3339), age, state)
	return nil
}
