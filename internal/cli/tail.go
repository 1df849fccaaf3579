package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tOgg1/pushdeck/internal/apps"
	"github.com/tOgg1/pushdeck/internal/live"
	"github.com/tOgg1/pushdeck/internal/models"
	"github.com/tOgg1/pushdeck/internal/notify"
)

type tailOptions struct {
	app     int64
	history bool
}

func newTailCmd(root *rootOptions) *cobra.Command {
	opts := tailOptions{app: models.PartitionAll}
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print messages as they arrive",
		Long:  "Follow the server's message stream and print one line per message until interrupted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runTail(ctx, cmd.OutOrStdout(), root, opts)
		},
	}
	cmd.Flags().Int64Var(&opts.app, "app", models.PartitionAll, "only print messages of this application id")
	cmd.Flags().BoolVar(&opts.history, "history", false, "print the latest page before following")
	return cmd
}

func runTail(ctx context.Context, out io.Writer, root *rootOptions, opts tailOptions) error {
	printer := &linePrinter{out: out}
	var session *live.Session
	session = live.New(root.cfg, live.Options{
		Sink: notify.NewLogSink(),
		OnMessage: func(m models.Message) {
			if opts.app != models.PartitionAll && m.AppID != opts.app {
				return
			}
			printer.print(m, session.Apps())
		},
	})
	if err := session.Start(ctx); err != nil {
		return err
	}

	if opts.history {
		if err := session.LoadMore(ctx, opts.app); err != nil {
			_ = stopSession(session)
			return err
		}
		page := session.Store().Snapshot(opts.app).Messages
		for i := len(page) - 1; i >= 0; i-- {
			printer.print(page[i], session.Apps())
		}
	}

	<-ctx.Done()
	return stopSession(session)
}

type linePrinter struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *linePrinter) print(m models.Message, dir apps.Directory) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintln(p.out, formatLine(m, dir))
}

// formatLine renders one message as "date [app] P<prio> title: body".
func formatLine(m models.Message, dir apps.Directory) string {
	name := fmt.Sprintf("app-%d", m.AppID)
	if dir != nil {
		if info, ok := dir.Get(m.AppID); ok && info.Name != "" {
			name = info.Name
		}
	}
	body := strings.ReplaceAll(m.Message, "\n", " ")
	line := fmt.Sprintf("%s [%s] P%d ", m.Date.Local().Format("2006-01-02 15:04:05"), name, m.Priority)
	if m.Title != "" {
		return line + m.Title + ": " + body
	}
	return line + body
}
