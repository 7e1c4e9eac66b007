package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sitewatch/sitewatch/internal/app"
	"github.com/sitewatch/sitewatch/internal/cache"
	"github.com/sitewatch/sitewatch/internal/kpi"
	"github.com/sitewatch/sitewatch/internal/report"
)

// MenuUI provides the canonical interactive interface for SiteWatch. It
// keeps the active filter as session state and re-runs the pipeline through
// the result cache on every view.
type MenuUI struct {
	opts    app.Options
	results *cache.Results
	reader  *bufio.Reader
	topN    int
}

// NewMenuUI creates the menu around base pipeline options.
func NewMenuUI(opts app.Options) *MenuUI {
	results, err := cache.New(cache.DefaultSize, opts.Metrics)
	if err != nil {
		// Only reachable with a broken capacity constant; run uncached.
		log.Warn().Err(err).Msg("Result cache unavailable")
	}
	return &MenuUI{
		opts:    opts,
		results: results,
		reader:  bufio.NewReader(os.Stdin),
		topN:    report.DefaultTopN,
	}
}

// Run starts the interactive menu loop.
func (ui *MenuUI) Run() error {
	log.Info().Str("input", ui.opts.InputPath).Msg("Starting SiteWatch interactive menu")

	fmt.Print("\033[2J\033[H")
	ui.showBanner()

	for {
		choice, err := ui.showMainMenu()
		if err != nil {
			return fmt.Errorf("menu error: %w", err)
		}

		if err := ui.handleMenuChoice(choice); err != nil {
			if err.Error() == "exit" {
				break
			}
			fmt.Printf("Action failed: %v\n", err)
			ui.waitForEnter()
		}
	}

	log.Info().Msg("SiteWatch menu session ended")
	return nil
}

func (ui *MenuUI) showBanner() {
	fmt.Printf(`
 ==========================================================
 |                 SiteWatch %s                        |
 |          Site Resource Loss & Status Analytics         |
 |                                                        |
 |   All features are accessible through this menu        |
 ==========================================================

`, version)
}

func (ui *MenuUI) showMainMenu() (string, error) {
	fmt.Printf(`
============== MAIN MENU ==============

 1. Report     - Overall rollup + site status
 2. Sites      - Top sites by cost leakage
 3. Trends     - Daily leakage and loss rate
 4. Loss mix   - Disposal driver breakdown
 5. Filters    - Restrict sites / date range (%s)
 6. Export     - Write artifact files
 7. Thresholds - Active rule configuration
 0. Exit

=======================================

Enter your choice (0-7): `, ui.opts.Filter.Key())

	line, err := ui.reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func (ui *MenuUI) handleMenuChoice(choice string) error {
	switch choice {
	case "1":
		return ui.handleReport()
	case "2":
		return ui.handleSites()
	case "3":
		return ui.handleTrends()
	case "4":
		return ui.handleLossMix()
	case "5":
		return ui.handleFilters()
	case "6":
		return ui.handleExport()
	case "7":
		return ui.handleThresholds()
	case "0":
		return fmt.Errorf("exit")
	default:
		fmt.Printf("Invalid choice: %s\n", choice)
		return nil
	}
}

// analysis runs the pipeline for the session's current filter.
func (ui *MenuUI) analysis() (*app.Analysis, error) {
	if ui.results == nil {
		return app.Run(ui.opts)
	}
	return ui.results.Get(ui.opts)
}

func (ui *MenuUI) handleReport() error {
	analysis, err := ui.analysis()
	if err != nil {
		return err
	}

	fmt.Println()
	if err := report.RenderReport(os.Stdout, analysis, ui.topN); err != nil {
		return err
	}
	ui.waitForEnter()
	return nil
}

func (ui *MenuUI) handleSites() error {
	analysis, err := ui.analysis()
	if err != nil {
		return err
	}

	fmt.Println()
	if err := report.RenderSites(os.Stdout, analysis.KPIs.BySite, ui.topN); err != nil {
		return err
	}
	ui.waitForEnter()
	return nil
}

func (ui *MenuUI) handleTrends() error {
	analysis, err := ui.analysis()
	if err != nil {
		return err
	}

	site := ui.prompt("Site ID (empty = all sites): ")
	days := analysis.KPIs.BySiteDay
	if site != "" {
		if days = analysis.KPIs.SiteDays(site); len(days) == 0 {
			fmt.Printf("No rows for site %s in the selected range.\n", site)
			ui.waitForEnter()
			return nil
		}
	}

	fmt.Println()
	if err := report.RenderTrend(os.Stdout, kpi.TrendByDay(days)); err != nil {
		return err
	}
	ui.waitForEnter()
	return nil
}

func (ui *MenuUI) handleLossMix() error {
	analysis, err := ui.analysis()
	if err != nil {
		return err
	}

	site := ui.prompt("Site ID (empty = all sites): ")
	mix := analysis.KPIs.LossMixBySite
	if site != "" {
		if mix = analysis.KPIs.SiteLossMix(site); len(mix) == 0 {
			fmt.Printf("No attributed disposals for site %s in the selected range.\n", site)
			ui.waitForEnter()
			return nil
		}
	}

	fmt.Println()
	if err := report.RenderMix(os.Stdout, kpi.ReasonTotals(mix)); err != nil {
		return err
	}
	ui.waitForEnter()
	return nil
}

func (ui *MenuUI) handleFilters() error {
	fmt.Printf("\nCurrent filter: %s\n", ui.opts.Filter.Key())
	fmt.Println("Empty input keeps the current value; '-' clears it.")

	if raw := ui.prompt("Sites (comma-separated): "); raw != "" {
		if raw == "-" {
			ui.opts.Filter.Sites = nil
		} else {
			var sites []string
			for _, s := range strings.Split(raw, ",") {
				if s = strings.TrimSpace(s); s != "" {
					sites = append(sites, s)
				}
			}
			ui.opts.Filter.Sites = sites
		}
	}

	if err := ui.promptDate("From (YYYY-MM-DD): ", &ui.opts.Filter.From); err != nil {
		return err
	}
	if err := ui.promptDate("To (YYYY-MM-DD): ", &ui.opts.Filter.To); err != nil {
		return err
	}

	fmt.Printf("Filter set: %s\n", ui.opts.Filter.Key())
	ui.waitForEnter()
	return nil
}

func (ui *MenuUI) handleExport() error {
	out := ui.prompt("Output directory (default out/analytics): ")
	if out == "" {
		out = "out/analytics"
	}

	analysis, err := ui.analysis()
	if err != nil {
		return err
	}

	paths, err := report.NewEmitter(out).EmitAll(analysis)
	if err != nil {
		return err
	}

	for _, p := range paths {
		fmt.Printf("wrote %s\n", p)
	}
	ui.waitForEnter()
	return nil
}

func (ui *MenuUI) handleThresholds() error {
	fmt.Println()
	if err := report.RenderThresholds(os.Stdout, ui.opts.Rules); err != nil {
		return err
	}
	ui.waitForEnter()
	return nil
}

// prompt reads one trimmed line, empty on read failure.
func (ui *MenuUI) prompt(label string) string {
	fmt.Print(label)
	line, err := ui.reader.ReadString('\n')
	if err != nil {
		return ""
	}
	return strings.TrimSpace(line)
}

// promptDate updates target in place: empty keeps it, '-' clears it.
func (ui *MenuUI) promptDate(label string, target *time.Time) error {
	raw := ui.prompt(label)
	switch raw {
	case "":
		return nil
	case "-":
		*target = time.Time{}
		return nil
	}

	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return fmt.Errorf("invalid date %q: expected YYYY-MM-DD", raw)
	}
	*target = t
	return nil
}

func (ui *MenuUI) waitForEnter() {
	fmt.Printf("\nPress Enter to continue...")
	ui.reader.ReadString('\n')
}
