package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"headliner/internal/dispatch"
	"headliner/internal/model"
	"headliner/internal/store"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	waitFor   time.Duration
	clearFlag bool
)

// dispatchRemote runs fn against a dispatcher backed by the Redis queue
// only, so it works while the server holds the Badger lock.
func dispatchRemote(fn func(ctx context.Context, d *dispatch.Dispatcher) (dispatch.Completion, error)) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Store (CLIENT MODE - Redis Only)
	st, err := openStore(false)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer st.Close()

	port, err := store.NewQueuePort(ctx, st, logger)
	if err != nil {
		return err
	}
	c, err := fn(ctx, dispatch.NewDispatcher(port, st, logger))
	if err != nil {
		return err
	}
	if waitFor <= 0 {
		logger.Info("Update queued")
		return nil
	}

	waitCtx, stop := context.WithTimeout(ctx, waitFor)
	defer stop()
	if err := c.Wait(waitCtx); err != nil {
		return fmt.Errorf("update: %w", err)
	}
	logger.Info("Update applied")
	return nil
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, a := range args {
		id, err := strconv.ParseInt(a, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q", a)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// flagCommand sets a boolean field on the given articles. --clear sets it
// to false (for read: marks unread).
func flagCommand(use, short string, field model.Field) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [id]...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			req := model.NewFlagUpdate(field, !clearFlag, ids...)
			return dispatchRemote(func(ctx context.Context, d *dispatch.Dispatcher) (dispatch.Completion, error) {
				logger.Debug("Submitting", zap.String("field", string(field)), zap.Int64s("ids", ids))
				return d.Submit(ctx, req)
			})
		},
	}
}

var noteCmd = &cobra.Command{
	Use:   "note [id] [text]",
	Short: "Attach a note to an article (empty text removes it)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args[:1])
		if err != nil {
			return err
		}
		return dispatchRemote(func(ctx context.Context, d *dispatch.Dispatcher) (dispatch.Completion, error) {
			return d.SetNote(ctx, model.ArticleSummary{ID: ids[0]}, args[1])
		})
	},
}

var (
	markFeed      int64
	markCategory  int64
	markSelectCat bool
)

var markReadCmd = &cobra.Command{
	Use:   "mark-read",
	Short: "Mark a feed, virtual feed or category read",
	RunE: func(cmd *cobra.Command, args []string) error {
		scope := model.ScopeFor(markFeed, markCategory, markSelectCat)
		return dispatchRemote(func(ctx context.Context, d *dispatch.Dispatcher) (dispatch.Completion, error) {
			return d.MarkFeedOrCategoryRead(ctx, scope)
		})
	},
}

var unsubscribeCmd = &cobra.Command{
	Use:   "unsubscribe [feed-id]",
	Short: "Remove a feed and its articles",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		return dispatchRemote(func(ctx context.Context, d *dispatch.Dispatcher) (dispatch.Completion, error) {
			return d.Unsubscribe(ctx, ids[0])
		})
	},
}

func addUpdateCommands(root *cobra.Command) {
	cmds := []*cobra.Command{
		flagCommand("read", "Mark articles read (--clear: unread)", model.FieldRead),
		flagCommand("star", "Star articles (--clear: unstar)", model.FieldStarred),
		flagCommand("publish", "Publish articles (--clear: unpublish)", model.FieldPublished),
	}
	for _, c := range cmds {
		c.Flags().BoolVar(&clearFlag, "clear", false, "clear the flag instead of setting it")
	}
	cmds = append(cmds, noteCmd, markReadCmd, unsubscribeCmd)

	markReadCmd.Flags().Int64Var(&markFeed, "feed", 0, "feed id; -1 starred, -2 published, -3 fresh, -4 all")
	markReadCmd.Flags().Int64Var(&markCategory, "cat", 0, "category id")
	markReadCmd.Flags().BoolVar(&markSelectCat, "select-cat", false, "mark the whole category")

	for _, c := range cmds {
		c.Flags().DurationVar(&waitFor, "wait", 10*time.Second, "wait this long for the worker to apply the update (0: don't wait)")
		root.AddCommand(c)
	}
}
