package cli

import (
	"context"
	"fmt"
	"strings"

	"depvet/health"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

func newMonitorCmd(o *rootOptions) *cobra.Command {
	var (
		force bool
		watch bool
	)
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Re-check the health of approved dependencies",
		Long: `Runs the health monitor once over the registry. With --watch the monitor keeps running on the
monitoring.schedule cron expression until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !watch {
				return o.runMonitor(cmd, health.RunOptions{Force: force})
			}
			return o.withApp(cmd.Context(), func(a *app) error {
				c, err := a.scheduleMonitor(cmd.Context())
				if err != nil {
					return err
				}
				c.Start()
				<-cmd.Context().Done()
				<-c.Stop().Done()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "check every active entry, due or not")
	cmd.Flags().BoolVar(&watch, "watch", false, "keep running on the configured schedule")
	return cmd
}

// scheduleMonitor registers a monitor run on the configured cron schedule.
func (a *app) scheduleMonitor(ctx context.Context) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(a.cfg.Monitoring.Schedule, func() {
		a.log.Info("Scheduled health check triggered")
		report, err := a.monitor.Run(ctx, health.RunOptions{})
		if err != nil {
			a.log.WithError(err).Error("scheduled health check failed")
			return
		}
		a.log.WithField("checked", len(report.Checked)).WithField("alerts", report.Alerts).Info("Scheduled health check finished")
	})
	if err != nil {
		return nil, fmt.Errorf("invalid monitoring.schedule %q: %w", a.cfg.Monitoring.Schedule, err)
	}
	return c, nil
}

func newConfigureCmd(o *rootOptions) *cobra.Command {
	var (
		file string
		set  []string
	)
	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Write the effective configuration, optionally with overrides",
		Example: `  depvet configure --set security.maxCVSSScore=7 --set vetting.level=comprehensive
  depvet configure -o policy.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v := o.viper
			for _, kv := range set {
				key, value, ok := strings.Cut(kv, "=")
				if !ok || key == "" {
					return fmt.Errorf("expected key=value, got %q", kv)
				}
				if strings.Contains(value, ",") {
					v.Set(key, strings.Split(value, ","))
				} else {
					v.Set(key, value)
				}
			}

			// Invalid overrides are reported before anything is written.
			cfg := o.cfg
			if err := v.Unmarshal(&cfg); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if problems := cfg.Sanitize(); len(problems) > 0 {
				return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
			}

			if err := v.WriteConfigAs(file); err != nil {
				return fmt.Errorf("failed to write configuration: %w", err)
			}
			o.log.WithField("file", file).Info("Configuration written")
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "output", "o", "depvet.yaml", "destination file; the extension selects the format")
	cmd.Flags().StringArrayVar(&set, "set", nil, "key=value override, repeatable")
	return cmd
}
