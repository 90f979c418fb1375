package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/studytrack/internal/model"
	"github.com/MarcoPoloResearchLab/studytrack/internal/notify"
	"github.com/MarcoPoloResearchLab/studytrack/internal/query"
	"github.com/MarcoPoloResearchLab/studytrack/internal/resource"
	"github.com/MarcoPoloResearchLab/studytrack/internal/studysync"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// errReported marks failures the notifier already printed.
var errReported = errors.New("reported")

type lister func(ctx context.Context, out io.Writer) error

func kitLister[T model.Record, C any, U any](kit *studysync.Kit[T, C, U], columns table[T]) lister {
	return func(ctx context.Context, out io.Writer) error {
		view, err := kit.List(ctx)
		if err != nil {
			return err
		}
		if view.Err != nil {
			return view.Err
		}
		return columns.write(out, view.Data)
	}
}

func newListCommand(use, short string, build func(*studysync.Session) lister) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(func(session *studysync.Session, _ *zap.Logger) error {
				return build(session)(cmd.Context(), cmd.OutOrStdout())
			})
		},
	}
}

func newNotesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notes",
		Short: "Manage notes",
	}
	cmd.AddCommand(
		newListCommand("list", "List notes", func(s *studysync.Session) lister { return kitLister(s.Notes(), noteRow) }),
		newNoteShowCommand(),
		newNoteCreateCommand(),
		newNoteUpdateCommand(),
		newNoteDeleteCommand(),
		newNoteWatchCommand(),
	)
	return cmd
}

func newNoteShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print one note as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			noteID, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withSession(func(session *studysync.Session, _ *zap.Logger) error {
				view, err := session.Notes().Get(cmd.Context(), noteID)
				if err != nil {
					return err
				}
				if view.Err != nil {
					return view.Err
				}
				return writeJSON(cmd.OutOrStdout(), view.Data)
			})
		},
	}
}

func newNoteCreateCommand() *cobra.Command {
	var title, content string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a note",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			input := model.NoteInput{Title: title}
			if cmd.Flags().Changed("content") {
				input.Content = &content
			}
			return withSession(func(session *studysync.Session, _ *zap.Logger) error {
				runner, err := session.Notes().NewRunner(cliNotifier(cmd))
				if err != nil {
					return err
				}
				created, err := runner.Create(cmd.Context(), input)
				if err != nil {
					return errReported
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), created.ID)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "Note title")
	cmd.Flags().StringVar(&content, "content", "", "Note content")
	return cmd
}

func newNoteUpdateCommand() *cobra.Command {
	var title, content string
	var clearContent bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change the title or content of a note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			noteID, err := parseID(args[0])
			if err != nil {
				return err
			}
			var patch model.NotePatch
			if cmd.Flags().Changed("title") {
				patch.Title = &title
			}
			switch {
			case clearContent:
				patch.Content = model.SetNull[string]()
			case cmd.Flags().Changed("content"):
				patch.Content = model.SetTo(content)
			}
			if patch.Title == nil && !patch.Content.Set {
				return errors.New("nothing to update: pass --title, --content or --clear-content")
			}
			return withSession(func(session *studysync.Session, _ *zap.Logger) error {
				runner, err := session.Notes().NewRunner(cliNotifier(cmd))
				if err != nil {
					return err
				}
				updated, err := runner.Update(cmd.Context(), noteID, patch)
				if err != nil {
					return errReported
				}
				return writeJSON(cmd.OutOrStdout(), updated)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "New title")
	cmd.Flags().StringVar(&content, "content", "", "New content")
	cmd.Flags().BoolVar(&clearContent, "clear-content", false, "Remove the note content")
	cmd.MarkFlagsMutuallyExclusive("content", "clear-content")
	return cmd
}

func newNoteDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			noteID, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withSession(func(session *studysync.Session, _ *zap.Logger) error {
				runner, err := session.Notes().NewRunner(cliNotifier(cmd))
				if err != nil {
					return err
				}
				if err := runner.Delete(cmd.Context(), noteID); err != nil {
					return errReported
				}
				return nil
			})
		},
	}
}

func newNoteWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print the note list whenever it changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return withSession(func(session *studysync.Session, logger *zap.Logger) error {
				out := cmd.OutOrStdout()
				binding, err := session.Notes().BindList(func(view query.View[[]model.Note]) {
					renderWatched(out, logger, view)
				})
				if err != nil {
					return err
				}
				defer binding.Close()

				return session.Run(ctx)
			})
		},
	}
}

func renderWatched(out io.Writer, logger *zap.Logger, view query.View[[]model.Note]) {
	switch {
	case view.IsLoading:
		return
	case view.Err != nil:
		fmt.Fprintf(out, "%s  notes unavailable: %s\n", time.Now().Format("15:04:05"), resource.Describe(view.Err))
		return
	}
	fmt.Fprintf(out, "%s  %d notes\n", time.Now().Format("15:04:05"), len(view.Data))
	if err := noteRow.write(out, view.Data); err != nil {
		logger.Warn("render failed", zap.Error(err))
	}
}

func withSession(run func(*studysync.Session, *zap.Logger) error) error {
	session, logger, err := openSession()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck
	defer session.Close()
	return run(session, logger)
}

func cliNotifier(cmd *cobra.Command) notify.Notifier {
	return notify.NewWriterNotifier(cmd.ErrOrStderr())
}

func parseID(raw string) (uint64, error) {
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || value == 0 {
		return 0, fmt.Errorf("invalid id %q: must be a positive integer", raw)
	}
	return value, nil
}
