package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sitewatch/sitewatch/internal/app"
	"github.com/sitewatch/sitewatch/internal/facts"
	"github.com/sitewatch/sitewatch/internal/report"
	"github.com/sitewatch/sitewatch/internal/rules"
)

// optionsFromFlags assembles pipeline options from the shared flag set.
func optionsFromFlags(cmd *cobra.Command) (app.Options, error) {
	input, _ := cmd.Flags().GetString("input")
	rulesPath, _ := cmd.Flags().GetString("rules")
	sitesRaw, _ := cmd.Flags().GetString("sites")
	fromRaw, _ := cmd.Flags().GetString("from")
	toRaw, _ := cmd.Flags().GetString("to")

	if input == "" {
		input = defaultInput
	}

	cfg, err := rules.LoadConfig(rulesPath)
	if err != nil {
		return app.Options{}, err
	}

	filter, err := buildFilter(sitesRaw, fromRaw, toRaw)
	if err != nil {
		return app.Options{}, err
	}

	return app.Options{InputPath: input, Filter: filter, Rules: cfg}, nil
}

// buildFilter parses the sites/from/to flag values into a row filter.
func buildFilter(sitesRaw, fromRaw, toRaw string) (facts.Filter, error) {
	var f facts.Filter

	for _, s := range strings.Split(sitesRaw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			f.Sites = append(f.Sites, s)
		}
	}

	var err error
	if f.From, err = parseDateFlag("from", fromRaw); err != nil {
		return facts.Filter{}, err
	}
	if f.To, err = parseDateFlag("to", toRaw); err != nil {
		return facts.Filter{}, err
	}

	return f, nil
}

func parseDateFlag(name, raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s date %q: expected YYYY-MM-DD", name, raw)
	}
	return t, nil
}

// runReport runs the pipeline and prints the console report.
func runReport(cmd *cobra.Command, args []string) error {
	opts, err := optionsFromFlags(cmd)
	if err != nil {
		return err
	}
	top, _ := cmd.Flags().GetInt("top")

	analysis, err := app.Run(opts)
	if err != nil {
		return reportPipelineError(err)
	}

	return report.RenderReport(os.Stdout, analysis, top)
}

// runExport runs the pipeline and writes the artifact set.
func runExport(cmd *cobra.Command, args []string) error {
	opts, err := optionsFromFlags(cmd)
	if err != nil {
		return err
	}
	out, _ := cmd.Flags().GetString("out")

	analysis, err := app.Run(opts)
	if err != nil {
		return reportPipelineError(err)
	}

	paths, err := report.NewEmitter(out).EmitAll(analysis)
	if err != nil {
		return err
	}

	for _, p := range paths {
		fmt.Printf("wrote %s\n", p)
	}
	log.Info().Int("artifacts", len(paths)).Str("out", out).Msg("Export completed")

	return nil
}

// reportPipelineError tags a pipeline failure with its class so the exit
// message says whether the input file, its schema, its values or its
// integrity was the problem.
func reportPipelineError(err error) error {
	return fmt.Errorf("%s: %w", app.ErrorClass(err), err)
}
