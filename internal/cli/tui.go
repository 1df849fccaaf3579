package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/tOgg1/pushdeck/internal/api"
	"github.com/tOgg1/pushdeck/internal/live"
	"github.com/tOgg1/pushdeck/internal/notify"
	"github.com/tOgg1/pushdeck/internal/tui"
)

const stopTimeout = 15 * time.Second

// errNoTTY is returned when the terminal UI is started without a terminal.
var errNoTTY = errors.New("the terminal UI requires an interactive terminal; use 'pushdeck tail' instead")

func newTUICmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Launch the terminal UI",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(cmd, opts)
		},
	}
}

func runTUI(cmd *cobra.Command, opts *rootOptions) error {
	if !hasTTY() {
		return errNoTTY
	}
	cfg := opts.cfg

	feed := notify.NewFeed(5)
	session := live.New(cfg, live.Options{Sink: notify.Multi{feed, notify.NewLogSink()}})
	if err := session.Start(cmd.Context()); err != nil {
		if errors.Is(err, api.ErrAuthRejected) {
			return fmt.Errorf("server rejected the token: %w", err)
		}
		return err
	}

	model, err := tui.NewModel(tui.Config{
		Backend:        session,
		Store:          session.Store(),
		Apps:           session.Apps(),
		Feed:           feed,
		Theme:          cfg.TUI.Theme,
		ShowTimestamps: cfg.TUI.ShowTimestamps,
	})
	if err != nil {
		_ = stopSession(session)
		return err
	}
	defer model.Close()

	_, runErr := tea.NewProgram(model, tea.WithAltScreen()).Run()
	if err := stopSession(session); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// stopSession flushes pending deletes before the process exits.
func stopSession(session *live.Session) error {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	return session.Stop(ctx)
}
