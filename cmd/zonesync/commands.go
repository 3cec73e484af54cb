package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"gitlab.bluewillows.net/root/zonesync/internal/reconciler"
	"gitlab.bluewillows.net/root/zonesync/internal/zonefile"
	"gitlab.bluewillows.net/root/zonesync/pkg/provider"
)

// ErrLocked is returned when another sync holds the lock.
var ErrLocked = errors.New("another sync is already running")

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "zonesync",
		Short:         "Sync DNS zone files to DNS providers",
		Long:          "zonesync plans and applies the difference between zone files and the records held by DNS hosting providers.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", os.Getenv("ZONESYNC_CONFIG"), "Config file (YAML or TOML); empty reads ZONESYNC_* variables only")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level override (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "Log format override (json, text)")
	root.PersistentFlags().StringVar(&a.metricsFile, "metrics-file", "", "Write metrics in Prometheus text format to this file")

	root.AddCommand(
		newValidateCommand(a),
		newPlanCommand(a),
		newSyncCommand(a),
		newDumpCommand(a),
		newServeCommand(a),
		newVersionCommand(a),
	)
	return root
}

func newVersionCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(a.stdout, "zonesync %s (built %s, %s)\n", Version, BuildDate, runtime.Version())
		},
	}
}

func newValidateCommand(a *app) *cobra.Command {
	var ping bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and zone files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(); err != nil {
				return err
			}

			var errs []error
			for _, z := range a.cfg.Zones {
				zone, err := zonefile.Load(z.File, z.Name, z.Lenient)
				if err != nil {
					errs = append(errs, fmt.Errorf("zone %s: %w", z.Name, err))
					continue
				}
				fmt.Fprintf(a.stdout, "zone %s: %d record sets\n", zone.Name, zone.Len())
			}

			if ping {
				for _, p := range a.registry.All() {
					if err := p.Ping(cmd.Context()); err != nil {
						errs = append(errs, provider.WrapError(p.Name(), "ping", err))
						continue
					}
					fmt.Fprintf(a.stdout, "provider %s: ok\n", p.Name())
				}
			}

			if len(errs) > 0 {
				return errors.Join(errs...)
			}
			fmt.Fprintln(a.stdout, "Configuration is valid.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&ping, "ping", false, "Also check connectivity and credentials of every provider")
	return cmd
}

func newPlanCommand(a *app) *cobra.Command {
	var targets []string

	cmd := &cobra.Command{
		Use:   "plan [zone...]",
		Short: "Show the changes a sync would make",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSync(cmd.Context(), args, targets, true)
		},
	}

	cmd.Flags().StringSliceVarP(&targets, "target", "t", nil, "Restrict to these provider names")
	return cmd
}

func newSyncCommand(a *app) *cobra.Command {
	var (
		targets []string
		doit    bool
	)

	cmd := &cobra.Command{
		Use:   "sync [zone...]",
		Short: "Sync zones to providers",
		Long:  "Sync zones to providers. Without --doit only the plan is shown.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSync(cmd.Context(), args, targets, !doit)
		},
	}

	cmd.Flags().StringSliceVarP(&targets, "target", "t", nil, "Restrict to these provider names")
	cmd.Flags().BoolVar(&doit, "doit", false, "Apply the changes")
	return cmd
}

func (a *app) runSync(ctx context.Context, zones, targets []string, dryRun bool) error {
	if err := a.setup(); err != nil {
		return err
	}
	defer a.writeMetrics()

	if !dryRun {
		lock := flock.New(a.lockPath())
		locked, err := lock.TryLock()
		if err != nil {
			return fmt.Errorf("acquiring lock %s: %w", lock.Path(), err)
		}
		if !locked {
			return fmt.Errorf("%w (lock %s)", ErrLocked, lock.Path())
		}
		defer lock.Unlock()
	}

	rec := reconciler.New(a.registry, a.cfg.Zones,
		reconciler.WithLogger(a.logger),
		reconciler.WithConfig(reconciler.Config{DryRun: dryRun, Targets: targets}),
	)

	result, err := rec.Sync(ctx, zones...)
	if err != nil {
		return err
	}

	printResult(a.stdout, result)
	if dryRun && result.HasChanges() {
		fmt.Fprintln(a.stdout, "Run 'zonesync sync --doit' to apply these changes.")
	}
	return result.Err()
}

// lockPath returns the lock file guarding concurrent syncs of one config.
func (a *app) lockPath() string {
	if a.cfg.Path != "" {
		return a.cfg.Path + ".lock"
	}
	return filepath.Join(os.TempDir(), "zonesync.lock")
}

func printResult(w io.Writer, result *reconciler.Result) {
	for _, t := range result.Targets {
		switch {
		case t.Plan == nil:
			fmt.Fprintf(w, "%s -> %s: failed: %v\n", t.Zone, t.Provider, t.Err)
			continue
		case !t.Plan.Exists:
			fmt.Fprintf(w, "%s -> %s (zone will be created)\n", t.Zone, t.Provider)
		default:
			fmt.Fprintf(w, "%s -> %s\n", t.Zone, t.Provider)
		}

		if !t.Plan.HasChanges() {
			fmt.Fprintln(w, "  no changes")
		}
		for _, c := range t.Plan.Changes {
			fmt.Fprintf(w, "  %s %s\n", changeMarker(c.Kind), c)
		}
	}
	fmt.Fprint(w, result.Summary())
}

func changeMarker(kind provider.ChangeKind) string {
	switch kind {
	case provider.ChangeCreate:
		return "+"
	case provider.ChangeDelete:
		return "-"
	default:
		return "~"
	}
}

func newDumpCommand(a *app) *cobra.Command {
	var (
		providerName string
		format       string
		output       string
		lenient      bool
		timeout      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "dump <zone>",
		Short: "Write a provider's current records as a zone file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := zonefile.ParseFormat(format)
			if err != nil {
				return err
			}
			if err := a.setup(); err != nil {
				return err
			}
			defer a.writeMetrics()

			if providerName == "" {
				all := a.registry.All()
				if len(all) != 1 {
					return fmt.Errorf("--provider is required when %d providers are configured", len(all))
				}
				providerName = all[0].Name()
			}

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			rec := reconciler.New(a.registry, a.cfg.Zones, reconciler.WithLogger(a.logger))
			zone, err := rec.Dump(ctx, providerName, args[0], lenient)
			if err != nil {
				return err
			}

			a.logger.Info("dumped zone",
				slog.String("zone", zone.Name),
				slog.String("provider", providerName),
				slog.Int("records", zone.Len()),
			)

			if output == "" || output == "-" {
				return zonefile.Write(a.stdout, f, zone)
			}
			if cmd.Flags().Changed("format") {
				out, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("creating output: %w", err)
				}
				defer out.Close()
				return zonefile.Write(out, f, zone)
			}
			return zonefile.WriteFile(output, zone)
		},
	}

	cmd.Flags().StringVarP(&providerName, "provider", "p", "", "Provider instance to read from (default: the only configured provider)")
	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "Output format (yaml, bind)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file; the format follows its extension unless --format is set")
	cmd.Flags().BoolVar(&lenient, "lenient", false, "Keep records that fail validation")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Abort after this duration")
	return cmd
}
