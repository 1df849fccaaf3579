// Package cli implements the pushdeck command line.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tOgg1/pushdeck/internal/config"
	"github.com/tOgg1/pushdeck/internal/logging"
)

// rootOptions holds the persistent flags.
type rootOptions struct {
	configFile string
	server     string
	token      string
	logLevel   string

	cfg     *config.Config
	logFile io.Closer
}

// Execute runs the pushdeck command tree.
func Execute(version string) error {
	return newRootCmd(version).Execute()
}

func newRootCmd(version string) *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "pushdeck",
		Short:         "Live console for a push-notification server",
		Long:          "pushdeck follows a push-notification server's message stream and lets you browse and delete messages.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			opts.close()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(cmd, opts)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "config file (default $XDG_CONFIG_HOME/pushdeck/config.yaml)")
	flags.StringVar(&opts.server, "server", "", "server base URL")
	flags.StringVar(&opts.token, "token", "", "client token")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: trace|debug|info|warn|error")

	cmd.AddCommand(
		newTUICmd(opts),
		newTailCmd(opts),
		newVersionCmd(version),
	)
	return cmd
}

// load resolves configuration and initialises logging. Interactive
// commands log to a file so output does not corrupt the screen.
func (o *rootOptions) load(cmd *cobra.Command) error {
	loader := config.NewLoader()
	if o.configFile != "" {
		loader.SetConfigFile(o.configFile)
	}
	if o.server != "" {
		loader.Set("server.url", o.server)
	}
	if o.token != "" {
		loader.Set("server.token", o.token)
	}
	if o.logLevel != "" {
		loader.Set("logging.level", o.logLevel)
	}

	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	o.cfg = cfg

	var out io.Writer = cmd.ErrOrStderr()
	path := cfg.Logging.File
	if isInteractive(cmd) && path == "" {
		path = cfg.TUI.LogFile
	}
	if path != "" {
		f, err := logging.OpenFile(path)
		if err != nil {
			return err
		}
		o.logFile = f
		out = f
	}

	logging.Init(logging.Config{
		Level:        cfg.Logging.Level,
		Format:       logFormat(cfg.Logging.Format, out),
		Output:       out,
		EnableCaller: cfg.Logging.EnableCaller,
	})
	if used := loader.ConfigFileUsed(); used != "" {
		logger := logging.Component("cli")
		logger.Debug().Str("file", used).Msg("config loaded")
	}
	return nil
}

func (o *rootOptions) close() {
	if o.logFile != nil {
		_ = o.logFile.Close()
		o.logFile = nil
	}
}

// isInteractive reports whether cmd renders the terminal UI.
func isInteractive(cmd *cobra.Command) bool {
	return cmd.Name() == "pushdeck" || cmd.Name() == "tui"
}

// logFormat keeps console output for terminals and switches to JSON when
// logs go to a file or a pipe.
func logFormat(format string, out io.Writer) string {
	if format != "console" {
		return format
	}
	f, ok := out.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return "json"
	}
	return format
}

func hasTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

func newVersionCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "pushdeck %s\n", version)
			return err
		},
	}
}
