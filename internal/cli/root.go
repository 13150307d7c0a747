package cli

import (
	stdcontext "context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Paintersrp/kill-orphan/internal/config"
	"github.com/Paintersrp/kill-orphan/internal/liveness"
	"github.com/Paintersrp/kill-orphan/internal/logging"
	"github.com/Paintersrp/kill-orphan/internal/metrics"
	"github.com/Paintersrp/kill-orphan/internal/monitor"
	"github.com/Paintersrp/kill-orphan/internal/runtime/process"
)

// Exit codes used before the child's own status is known.
const (
	ExitUsage       = 2
	ExitSpawnFailed = 127
	// exitInternal covers failures after the child was started that leave
	// no meaningful child status.
	exitInternal = 1
)

const usageLine = "Usage: kill-orphan <command> [<args>...]"

var errUsage = errors.New(usageLine)

func NewRootCmd() *cobra.Command {
	root, _ := newRootCommand()
	return root
}

func newRootCommand() (*cobra.Command, *context) {
	ctx := &context{exitCode: exitInternal}

	root := &cobra.Command{
		Use:   "kill-orphan <command> [<args>...]",
		Short: "Run a command and kill its process group when this process's parent dies",
		Long: `kill-orphan starts <command> in a new process group and waits for it.
If the process that started kill-orphan dies first, the whole group is sent
SIGTERM (then SIGKILL after a grace period) so nothing is left orphaned.
Arguments after the command are passed through untouched.`,
		Args:               cobra.ArbitraryArgs,
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := ctx.supervise(cmd.Context(), args, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
			ctx.exitCode = code
			return err
		},
	}

	root.SilenceUsage = true
	root.SilenceErrors = true
	root.CompletionOptions.DisableDefaultCmd = true

	return root, ctx
}

// Execute runs the CLI entrypoint and exits with the supervised outcome.
func Execute() {
	os.Exit(run(stdcontext.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(parent stdcontext.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	root, ctx := newRootCommand()
	if args == nil {
		// cobra falls back to os.Args for a nil slice.
		args = []string{}
	}
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.ExecuteContext(parent); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintln(stderr, usageLine)
		} else {
			fmt.Fprintf(stderr, "kill-orphan: %v\n", err)
		}
	}
	return ctx.exitCode
}

type context struct {
	exitCode int
}

// supervise runs one child to completion and returns the exit code.
func (c *context) supervise(parent stdcontext.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) (int, error) {
	// Capture the parent before anything else can race with its death.
	probe := liveness.NewParentProbe()

	if len(args) == 0 {
		return ExitUsage, errUsage
	}

	cfg, err := config.FromEnv()
	if err != nil {
		return ExitUsage, err
	}
	logger, closeLogger, err := logging.New(cfg.Log)
	if err != nil {
		return ExitUsage, err
	}
	defer closeLogger()

	interrupts := make(chan os.Signal, 1)
	for _, sig := range process.TerminationSignals {
		signal.Notify(interrupts, sig)
	}
	defer signal.Stop(interrupts)

	// A write to a dead parent's pipe must not kill us before the group is
	// signalled. Catching SIGPIPE (rather than ignoring it) keeps the
	// child's disposition at its default across exec.
	brokenPipes := make(chan os.Signal, 1)
	signal.Notify(brokenPipes, syscall.SIGPIPE)
	defer signal.Stop(brokenPipes)

	logger.Debug("Launching command", zap.Strings("argv", args), zap.Int("parent_pid", probe.PID))
	child, err := process.Start(args, process.Options{Stdin: stdin, Stdout: stdout, Stderr: stderr})
	if err != nil {
		return ExitSpawnFailed, err
	}
	logger.Debug("Spawned process with pid", zap.Int("pid", child.Pid()), zap.Int("pgid", child.Pgid()))

	watcher := newWatcher(cfg, logger)
	m, err := monitor.New(monitor.Config{
		Child:          child,
		Signaler:       process.Signaler{},
		Watcher:        watcher,
		Probe:          probe,
		Fallback:       liveness.NewPollWatcher(cfg.PollInterval.Duration, logger),
		Interrupts:     interrupts,
		GracePeriod:    cfg.GracePeriod.Duration,
		KillStragglers: cfg.StragglersEnabled(),
		Logger:         logger,
	})
	if err != nil {
		_ = process.Signaler{}.SignalGroup(child.Pgid(), syscall.SIGKILL)
		child.Wait()
		return exitInternal, err
	}

	outcome := m.Run(parent)
	logger.Debug("Supervision finished",
		zap.Stringer("outcome", outcome.State),
		zap.Int("exit_code", outcome.ExitCode()))

	if err := metrics.WriteTextfile(cfg.MetricsFile); err != nil {
		logger.Warn("failed to write metrics file", zap.String("path", cfg.MetricsFile), zap.Error(err))
	}
	return outcome.ExitCode(), nil
}

// newWatcher builds the configured parent watcher, falling back to polling
// when the platform cannot provide the requested strategy.
func newWatcher(cfg *config.Config, logger *zap.Logger) liveness.Watcher {
	opts, err := cfg.WatcherOptions()
	if err == nil {
		opts.Logger = logger
		var w liveness.Watcher
		if w, err = liveness.NewWatcher(cfg.Strategy, opts); err == nil {
			return w
		}
	}
	logger.Warn("parent watcher unavailable, falling back to polling",
		zap.String("strategy", string(cfg.Strategy)), zap.Error(err))
	return liveness.NewPollWatcher(cfg.PollInterval.Duration, logger)
}
