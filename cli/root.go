// Package cli holds the depvet command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"depvet/config"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// ExitError carries a process exit status out of a command without printing anything.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

type rootOptions struct {
	cfgFile string
	verbose bool

	viper  *viper.Viper
	cfg    config.Config
	log    *logrus.Logger
	stdout io.Writer
	stderr io.Writer
}

func NewLogger(out io.Writer, verbose bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
		ForceColors:     true,
		DisableQuote:    true,
		PadLevelText:    true,
	})
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	o := &rootOptions{viper: viper.New(), stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:           "depvet",
		Short:         "Vet third-party packages and monitor approved dependencies",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			o.log = NewLogger(o.stderr, o.verbose)
			o.cfg = config.Load(o.viper, o.cfgFile, o.log)
			if o.cfg.Verbose {
				o.log.SetLevel(logrus.DebugLevel)
			}
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVar(&o.cfgFile, "config", "", "policy document (default ./depvet.yaml)")
	root.PersistentFlags().BoolVarP(&o.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newRegistryCmd(o),
		newVetCmd(o),
		newQuickCheckCmd(o),
		newMonitorCmd(o),
		newConfigureCmd(o),
		newServeCmd(o),
	)
	return root
}

// Run executes the command line and returns the process exit status.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	fmt.Fprintln(stderr, "Error:", err)
	return 1
}

// Execute runs the process command line; SIGINT and SIGTERM cancel the running command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := Run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
