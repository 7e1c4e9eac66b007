package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const (
	appName = "SiteWatch"
	version = "v1.2.0"

	defaultInput = "data/raw/daily_site_resource.csv"
	defaultRules = "config/rules.yaml"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	rootCmd := &cobra.Command{
		Use:     "sitewatch",
		Short:   "Site resource loss analytics - run `sitewatch` for the interactive menu.",
		Version: version,
		Long: `SiteWatch turns the daily per-site resource fact table into loss and
utilization KPIs and classifies each site's operational status.

THE INTERACTIVE MENU IS THE PRIMARY INTERFACE
   Run 'sitewatch' in a terminal for the full interactive experience.
   Subcommands and flags are automation shims for non-interactive use.`,
		Run: runDefaultEntry,
	}
	addInputFlags(rootCmd)

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Print the overall rollup and site status table",
		Long:  "Runs the full pipeline over the fact table and prints the console report",
		RunE:  runReport,
	}
	addInputFlags(reportCmd)
	reportCmd.Flags().Int("top", 0, "Status rows to print (0 = default 12)")

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write the aggregate tables and snapshot to an output directory",
		Long:  "Runs the full pipeline and writes by_site, by_site_day, loss_mix_by_site, site_status and snapshot.json",
		RunE:  runExport,
	}
	addInputFlags(exportCmd)
	exportCmd.Flags().String("out", "out/analytics", "Output directory for artifacts")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only analytics API",
		Long:  "Starts the local-only JSON API with /health, /metrics and /api/v1 endpoints",
		RunE:  runServe,
	}
	addInputFlags(serveCmd)
	serveCmd.Flags().String("addr", "", "Listen address (overrides config)")
	serveCmd.Flags().String("config", "config/server.yaml", "Server config file")

	menuCmd := &cobra.Command{
		Use:   "menu",
		Short: "Interactive menu interface (canonical UX)",
		Long:  "Start the interactive menu system for full SiteWatch functionality",
		Run:   runMenuCmd,
	}
	addInputFlags(menuCmd)

	rootCmd.AddCommand(menuCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// addInputFlags attaches the pipeline flags shared by every subcommand.
func addInputFlags(cmd *cobra.Command) {
	cmd.Flags().String("input", defaultInput, "Fact table CSV path")
	cmd.Flags().String("rules", defaultRules, "Rules config file (missing file = defaults)")
	cmd.Flags().String("sites", "", "Comma-separated site filter")
	cmd.Flags().String("from", "", "Inclusive start date (YYYY-MM-DD)")
	cmd.Flags().String("to", "", "Inclusive end date (YYYY-MM-DD)")
}

// runDefaultEntry routes a bare invocation to the menu when a TTY is
// attached, and to automation guidance when not.
func runDefaultEntry(cmd *cobra.Command, args []string) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprintf(os.Stderr, "Interactive menu requires a TTY terminal.\n")
		fmt.Fprintf(os.Stderr, "Use subcommands and flags for non-interactive automation:\n\n")
		fmt.Fprintf(os.Stderr, "   sitewatch report --input data/raw/daily_site_resource.csv --top 12\n")
		fmt.Fprintf(os.Stderr, "   sitewatch export --out out/analytics\n")
		fmt.Fprintf(os.Stderr, "   sitewatch serve --addr 127.0.0.1:8099\n")
		fmt.Fprintf(os.Stderr, "   sitewatch --help\n")
		os.Exit(2)
	}

	runMenuCmd(cmd, args)
}

func runMenuCmd(cmd *cobra.Command, args []string) {
	opts, err := optionsFromFlags(cmd)
	if err != nil {
		log.Error().Err(err).Msg("invalid flags")
		os.Exit(1)
	}

	ui := NewMenuUI(opts)
	if err := ui.Run(); err != nil {
		log.Error().Err(err).Msg("menu interface failed")
		os.Exit(1)
	}
}
