package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"watchrun/internal/config"
	"watchrun/internal/filter"
	"watchrun/internal/log"
	"watchrun/internal/run"
	"watchrun/internal/watch"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the watchrun command
func NewRootCmd() *cobra.Command {
	var (
		cfgFile    string
		watchPaths []string
		extensions string
		filterPats []string
		ignorePats []string
		restart    bool
		clearTerm  bool
		verbose    bool
		debounce   time.Duration
	)

	cmd := &cobra.Command{
		Use:     "watchrun [flags] -- <command>...",
		Short:   "Execute commands when watched files change",
		Long:    `Watchrun watches a set of paths and runs a command whenever a relevant change occurs, coalescing bursts of related events into a single run.`,
		Version: version,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			var cfg *config.Config
			var err error
			if cfgFile != "" {
				cfg, err = config.LoadRequiredConfigFile(cfgFile)
			} else {
				cfg, err = config.LoadConfig()
			}
			if err != nil {
				return err
			}

			// Flags override config file values; filter and ignore
			// patterns accumulate on top of them
			if cmd.Flags().Changed("watch") {
				cfg.Watch = watchPaths
			}
			if cmd.Flags().Changed("exts") {
				cfg.Extensions = strings.Split(extensions, ",")
			}
			if cmd.Flags().Changed("debounce") {
				cfg.DebounceMs = int(debounce / time.Millisecond)
			}
			if cmd.Flags().Changed("restart") {
				cfg.Restart = restart
			}
			if cmd.Flags().Changed("clear") {
				cfg.Clear = clearTerm
			}
			if cmd.Flags().Changed("verbose") {
				cfg.Verbose = verbose
			}
			cfg.Filters = append(cfg.Filters, filterPats...)
			cfg.Ignores = append(cfg.Ignores, ignorePats...)

			return watchLoop(cfg, strings.Join(args, " "))
		},
	}

	cmd.Flags().StringVar(&cfgFile, "config", "", "config file (default is ./.watchrun.yaml, then $HOME/.config/watchrun/config.yaml)")
	cmd.Flags().StringSliceVarP(&watchPaths, "watch", "w", []string{"."}, "Path to watch (repeatable)")
	cmd.Flags().StringVarP(&extensions, "exts", "e", "", "Comma-separated list of file extensions to watch (js,css,html)")
	cmd.Flags().StringArrayVarP(&filterPats, "filter", "f", nil, "Ignore all modifications except those matching the pattern (repeatable)")
	cmd.Flags().StringArrayVarP(&ignorePats, "ignore", "i", nil, "Ignore modifications to paths matching the pattern (repeatable)")
	cmd.Flags().BoolVarP(&restart, "restart", "r", false, "Restart the process if it's still running")
	cmd.Flags().BoolVarP(&clearTerm, "clear", "c", false, "Clear screen before executing command")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print diagnostic messages")
	cmd.Flags().DurationVar(&debounce, "debounce", watch.DefaultQuiescence, "Quiescence window for coalescing change bursts")

	return cmd
}

// watchLoop wires the filter, watcher, debouncer and runner together and
// drives the trigger loop until the event source dies or a signal stops
// the watcher.
func watchLoop(cfg *config.Config, command string) error {
	log.SetVerbose(cfg.Verbose)

	origin, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("cannot determine working directory: %w", err)
	}

	builder := filter.NewBuilder(origin)
	for _, p := range filter.DefaultIgnores {
		builder.AddIgnore(p)
	}
	for _, e := range cfg.Extensions {
		builder.AddExtension(e)
	}
	for _, p := range cfg.Filters {
		builder.AddFilter(p)
	}
	for _, p := range cfg.Ignores {
		builder.AddIgnore(p)
	}

	gate, err := builder.Build()
	if err != nil {
		return err
	}

	watcher, err := watch.New()
	if err != nil {
		return err
	}
	for _, p := range cfg.Watch {
		if err := watcher.Add(p); err != nil {
			return err
		}
	}
	if err := watcher.Start(); err != nil {
		return err
	}

	fmt.Println(infoText(fmt.Sprintf("Watching %s", strings.Join(watcher.Roots(), ", "))))

	var interrupted atomic.Bool
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		interrupted.Store(true)
		fmt.Println(infoText("\nStopping..."))
		watcher.Stop()
	}()

	debouncer := watch.NewDebouncer(watcher.Events(), gate, cfg.Debounce())
	runner := run.New(cfg.Restart, cfg.Clear)

	for {
		event, err := debouncer.Next()
		if err != nil {
			if interrupted.Load() && errors.Is(err, watch.ErrEventSourceClosed) {
				fmt.Println(successText("Watch stopped"))
				return nil
			}
			return fmt.Errorf("waiting for filesystem changes: %w", err)
		}

		log.LogWithFields(log.F("op", event.Op.String()), log.F("paths", event.Paths)).Debug("Trigger")

		// Run errors are already reported; the loop keeps watching and
		// the next trigger attempts a fresh spawn
		_ = runner.Run(command)
	}
}
