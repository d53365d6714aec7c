package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"depvet/health"
	"depvet/model"
	"depvet/registry"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

func newRegistryCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Manage the approved dependency registry",
	}
	cmd.AddCommand(
		newRegistryAddCmd(o),
		newRegistryRemoveCmd(o),
		newRegistryUpdateCmd(o),
		newRegistryListCmd(o),
		newRegistryMonitorCmd(o),
		newRegistryHealthCheckCmd(o),
		newRegistryExportCmd(o),
		newRegistryImportCmd(o),
	)
	return cmd
}

func newRegistryAddCmd(o *rootOptions) *cobra.Command {
	var (
		source     string
		lic        string
		approvedBy string
		frequency  string
	)
	cmd := &cobra.Command{
		Use:   "add <name@version|purl>",
		Short: "Approve a dependency without vetting it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pkg, err := model.ParsePackage(args[0], source)
			if err != nil {
				return err
			}
			approval := registry.Approval{
				RegistrySource: pkg.RegistrySource,
				License:        lic,
				ApprovedBy:     firstNonEmpty(approvedBy, o.cfg.Vetting.ApprovedBy),
				Frequency:      firstNonEmpty(frequency, o.cfg.Monitoring.Frequency),
			}
			return o.withApp(cmd.Context(), func(a *app) error {
				if err := a.registry.Add(cmd.Context(), pkg.Name, pkg.Version, approval); err != nil {
					return err
				}
				o.log.WithField("package", pkg.Key()).Info("Dependency added")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&source, "source", model.DefaultRegistrySource, "package registry (nuget, npm, pypi, maven, golang, cargo)")
	cmd.Flags().StringVar(&lic, "license", "", "declared license")
	cmd.Flags().StringVar(&approvedBy, "approved-by", "", "approver recorded on the entry")
	cmd.Flags().StringVar(&frequency, "frequency", "", "monitoring frequency (daily, weekly, monthly or a duration)")
	return cmd
}

func newRegistryRemoveCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove a dependency from the registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd.Context(), func(a *app) error {
				if err := a.registry.Remove(cmd.Context(), args[0]); err != nil {
					return err
				}
				o.log.WithField("name", args[0]).Info("Dependency removed")
				return nil
			})
		},
	}
}

func newRegistryUpdateCmd(o *rootOptions) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "update <name> [version]",
		Short: "Change the approved version or the status of a dependency",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if len(args) == 1 && status == "" {
				return fmt.Errorf("nothing to update: give a version or --status")
			}
			switch registry.Status(status) {
			case "", registry.StatusActive, registry.StatusDeprecated, registry.StatusRemoved:
			default:
				return fmt.Errorf("invalid status %q", status)
			}

			return o.withApp(cmd.Context(), func(a *app) error {
				now := time.Now()
				return a.registry.Update(cmd.Context(), func(reg *registry.Registry) error {
					if len(args) == 2 {
						if err := reg.UpdateVersion(name, args[1], now); err != nil {
							return err
						}
					}
					if status != "" {
						return reg.SetStatus(name, registry.Status(status))
					}
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "new status (active, deprecated, removed)")
	return cmd
}

func newRegistryListCmd(o *rootOptions) *cobra.Command {
	var (
		status       string
		healthStatus string
		outdated     bool
		asJSON       bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List approved dependencies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd.Context(), func(a *app) error {
				reg, err := a.registry.Snapshot(cmd.Context())
				if err != nil {
					return err
				}
				entries := reg.List(registry.Filter{
					Status: registry.Status(status),
					Health: registry.HealthStatus(healthStatus),
				})

				latest := map[string]model.VersionAnalysis{}
				if outdated {
					for _, e := range entries {
						pkg := model.Package{Name: e.Name, Version: e.Version, RegistrySource: e.RegistrySource}
						analysis, err := a.analyzer.Check(cmd.Context(), pkg)
						if err != nil {
							o.log.WithError(err).WithField("name", e.Name).Warn("Latest version unknown")
						}
						latest[e.Name] = analysis
					}
				}

				if asJSON {
					return writeJSON(o.stdout, entries)
				}
				renderEntries(o.stdout, entries, latest, outdated)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only entries with this status")
	cmd.Flags().StringVar(&healthStatus, "health", "", "only entries with this health status")
	cmd.Flags().BoolVar(&outdated, "outdated", false, "look up the latest published version of each entry")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func renderEntries(w io.Writer, entries []registry.Entry, latest map[string]model.VersionAnalysis, showLatest bool) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	header := table.Row{"Name", "Version", "Status", "Health", "Score", "Last check", "Approved by"}
	if showLatest {
		header = append(header, "Latest", "Update")
	}
	tw.AppendHeader(header)

	for _, e := range entries {
		lastCheck := "-"
		if e.HealthCheck.LastCheck != nil {
			lastCheck = e.HealthCheck.LastCheck.Format(time.DateOnly)
		}
		row := table.Row{e.Name, e.Version, e.Status, colorHealth(e.HealthCheck.Status), fmt.Sprintf("%.0f", e.HealthCheck.Score), lastCheck, e.ApprovedBy}
		if showLatest {
			analysis := latest[e.Name]
			row = append(row, firstNonEmpty(analysis.LatestVersion, "?"), analysis.UpdateType)
		}
		tw.AppendRow(row)
	}
	tw.AppendFooter(table.Row{"Total", len(entries)})
	tw.Render()
}

func colorHealth(s registry.HealthStatus) string {
	switch s {
	case registry.HealthHealthy:
		return text.FgGreen.Sprint(s)
	case registry.HealthWarning:
		return text.FgYellow.Sprint(s)
	case registry.HealthCritical:
		return text.FgRed.Sprint(s)
	default:
		return firstNonEmpty(string(s), string(registry.HealthUnknown))
	}
}

func newRegistryMonitorCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Run health checks for the entries that are due",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.runMonitor(cmd, health.RunOptions{})
		},
	}
}

func newRegistryHealthCheckCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health-check [name...]",
		Short: "Check the health of the named entries, or all active entries, now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.runMonitor(cmd, health.RunOptions{Force: true, Names: args})
		},
	}
}

func (o *rootOptions) runMonitor(cmd *cobra.Command, opts health.RunOptions) error {
	return o.withApp(cmd.Context(), func(a *app) error {
		report, err := a.monitor.Run(cmd.Context(), opts)
		if err != nil {
			return err
		}
		if err := writeJSON(o.stdout, report); err != nil {
			return err
		}
		for _, r := range report.Checked {
			if r.HealthCheck.Status == registry.HealthCritical {
				return &ExitError{Code: 3}
			}
		}
		return nil
	})
}

func newRegistryExportCmd(o *rootOptions) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the registry as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd.Context(), func(a *app) error {
				if file == "" || file == "-" {
					return a.registry.Export(cmd.Context(), o.stdout)
				}
				f, err := os.Create(file)
				if err != nil {
					return fmt.Errorf("failed to create export file: %w", err)
				}
				if err := a.registry.Export(cmd.Context(), f); err != nil {
					f.Close()
					return err
				}
				return f.Close()
			})
		},
	}
	cmd.Flags().StringVarP(&file, "output", "o", "", "destination file (default stdout)")
	return cmd
}

func newRegistryImportCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Add the entries of an exported registry; existing names are kept",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open import file: %w", err)
			}
			defer f.Close()

			return o.withApp(cmd.Context(), func(a *app) error {
				summary, err := a.registry.Import(cmd.Context(), f)
				if err != nil {
					return err
				}
				o.log.WithField("added", summary.Added).WithField("skipped", summary.Skipped).Info("Registry imported")
				return writeJSON(o.stdout, summary)
			})
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
