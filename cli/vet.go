package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"depvet/model"
	"depvet/vetting"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

type vetFlags struct {
	source string
	lic    string
	output string
}

func (f *vetFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.source, "source", model.DefaultRegistrySource, "package registry for name@version arguments")
	cmd.Flags().StringVar(&f.lic, "license", "", "declared license, applied to every package")
	cmd.Flags().StringVarP(&f.output, "output", "o", "json", "report format (json, table)")
}

func (f *vetFlags) packages(args []string) ([]model.Package, error) {
	pkgs := make([]model.Package, 0, len(args))
	for _, arg := range args {
		pkg, err := model.ParsePackage(arg, f.source)
		if err != nil {
			return nil, err
		}
		pkg.License = f.lic
		pkgs = append(pkgs, pkg)
	}
	return pkgs, nil
}

func newVetCmd(o *rootOptions) *cobra.Command {
	var (
		flags vetFlags
		level string
		skip  []string
	)
	cmd := &cobra.Command{
		Use:   "vet <name@version|purl>...",
		Short: "Vet packages and approve the accepted ones into the registry",
		Long: `Runs the vetting pipeline for every package. Approved and conditionally approved packages are
written to the registry. The exit status is 0 when every package was accepted, 2 when one was
rejected, 3 when one needs review and 1 on errors.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pkgs, err := flags.packages(args)
			if err != nil {
				return err
			}
			lvl, err := vetting.ParseLevel(firstNonEmpty(level, o.cfg.Vetting.Level))
			if err != nil {
				return err
			}
			opts := vetting.Options{Level: lvl}
			for _, s := range skip {
				opts.Skip = append(opts.Skip, model.StageName(strings.ToLower(s)))
			}

			return o.withApp(cmd.Context(), func(a *app) error {
				results, err := a.service.VetAll(cmd.Context(), pkgs, opts)
				return o.report(results, err, flags.output)
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&level, "level", "", "vetting level (basic, standard, comprehensive, quick)")
	cmd.Flags().StringSliceVar(&skip, "skip", nil, "stages to skip")
	return cmd
}

func newQuickCheckCmd(o *rootOptions) *cobra.Command {
	var flags vetFlags
	cmd := &cobra.Command{
		Use:   "quick-check <name@version|purl>...",
		Short: "Screen packages for vulnerabilities and license problems without approving them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pkgs, err := flags.packages(args)
			if err != nil {
				return err
			}
			return o.withApp(cmd.Context(), func(a *app) error {
				var (
					results []model.VettingResult
					errs    error
				)
				for _, pkg := range pkgs {
					r, err := a.service.QuickCheck(cmd.Context(), pkg)
					results = append(results, r)
					if err != nil {
						errs = err
						break
					}
				}
				return o.report(results, errs, flags.output)
			})
		},
	}
	flags.register(cmd)
	return cmd
}

// report prints the results and turns them into the process exit status.
func (o *rootOptions) report(results []model.VettingResult, runErr error, format string) error {
	var err error
	switch format {
	case "table":
		renderResults(o.stdout, results)
	default:
		err = writeJSON(o.stdout, results)
	}
	if err != nil {
		return err
	}

	if runErr != nil {
		o.log.WithError(runErr).Error("Vetting did not complete")
		return &ExitError{Code: vetting.ExitError}
	}
	if code := vetting.WorstExitCode(results); code != vetting.ExitApproved {
		return &ExitError{Code: code}
	}
	return nil
}

func renderResults(w io.Writer, results []model.VettingResult) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Package", "Level", "Score", "Recommendation", "Risk", "Issues"})

	for _, r := range results {
		tw.AppendRow(table.Row{
			r.Package.Key(),
			r.VettingLevel,
			fmt.Sprintf("%.1f", r.OverallScore),
			colorRecommendation(r.Recommendation),
			r.RiskLevel,
			text.WrapText(strings.Join(issueLines(r), "\n"), 80),
		})
	}
	tw.Render()
}

func issueLines(r model.VettingResult) []string {
	stages := make([]string, 0, len(r.Stages))
	for name := range r.Stages {
		stages = append(stages, string(name))
	}
	sort.Strings(stages)

	var lines []string
	for _, name := range stages {
		for _, issue := range r.Stages[model.StageName(name)].Issues {
			if issue.Severity == model.IssueInfo {
				continue
			}
			lines = append(lines, fmt.Sprintf("%s: %s", name, issue.Message))
		}
	}
	return lines
}

func colorRecommendation(rec model.Recommendation) string {
	switch rec {
	case model.Approved:
		return text.FgGreen.Sprint(rec)
	case model.ConditionallyApproved:
		return text.FgYellow.Sprint(rec)
	case model.Rejected:
		return text.FgRed.Sprint(rec)
	case "":
		return "incomplete"
	default:
		return text.FgHiYellow.Sprint(rec)
	}
}
