package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"patlas/internal/config"
	"patlas/internal/driver"
	"patlas/internal/logging"
	"patlas/internal/report"
)

var (
	// Global flags
	verbose     bool
	configPath  string
	outputDir   string
	metricsAddr string

	// Analyze flags
	keywords   []string
	timeRange  string
	depth      string
	focusAreas []string
	formats    []string
	title      string
	searchType string
	limit      int
	jsonOut    bool
	runTimeout time.Duration

	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "patlas",
	Short: "patlas - multi-agent patent analysis platform",
	Long: `patlas runs patent analysis workflows over a team of cooperating
worker agents: search aggregation, data collection, statistical analysis
(trend, competition, technology, geographic) and versioned report generation,
with quality gates between the stages.

This binary ships with a built-in demo corpus, so every command works offline.
Point it at real sources by registering them in your own build.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load(".env")

		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if outputDir != "" {
			cfg.Report.OutputDir = outputDir
		}

		lc := cfg.Logging
		if verbose {
			lc.Level = "debug"
		}
		logger, err = logging.Build(lc)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// analyzeCmd runs one full workflow: search, collect, analyze, report.
var analyzeCmd = &cobra.Command{
	Use:   "analyze [ask]",
	Short: "Run a patent analysis workflow",
	Long: `Runs the full pipeline for a set of keywords (or a free-text ask the
keywords are derived from): search aggregation, record normalization,
statistical analysis with a quality gate, and report export.

Examples:
  patlas analyze --keywords 人工智能 --time-range 2019-2025
  patlas analyze --keywords 储能 --depth deep --focus 趋势,竞争
  patlas analyze 请分析人工智能领域的专利态势`,
	Args: cobra.ArbitraryArgs,
	RunE: runAnalyze,
}

// workersCmd boots the worker topology and prints the roster.
var workersCmd = &cobra.Command{
	Use:   "workers",
	Short: "Show the worker topology this binary runs with",
	RunE:  runWorkers,
}

// reportCmd groups report-store inspection commands.
var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Inspect and manage generated reports",
}

var reportListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored reports",
	RunE:  runReportList,
}

var reportShowCmd = &cobra.Command{
	Use:   "show [report-id]",
	Short: "Show one report with its exported files",
	Args:  cobra.ExactArgs(1),
	RunE:  runReportShow,
}

var reportVersionsCmd = &cobra.Command{
	Use:   "versions [report-id]",
	Short: "List the version history of a report",
	Args:  cobra.ExactArgs(1),
	RunE:  runReportVersions,
}

var reportDeleteCmd = &cobra.Command{
	Use:   "delete [report-id]",
	Short: "Delete a report and every version of it",
	Args:  cobra.ExactArgs(1),
	RunE:  runReportDelete,
}

// versionCmd prints build information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the patlas version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("%s %s (%s)\n", cfg.Name, cfg.Version, runtime.Version())
		return nil
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "patlas.yaml", "Configuration file (missing file selects defaults)")
	rootCmd.PersistentFlags().StringVarP(&outputDir, "output", "o", "", "Report output directory (overrides configuration)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while running")

	// Analyze flags
	analyzeCmd.Flags().StringSliceVarP(&keywords, "keywords", "k", nil, "Search keywords (derived from the ask when omitted)")
	analyzeCmd.Flags().StringVar(&timeRange, "time-range", "", "Year range filter, e.g. 2019-2025")
	analyzeCmd.Flags().StringVar(&depth, "depth", "", "Analysis depth: basic, standard or deep")
	analyzeCmd.Flags().StringSliceVar(&focusAreas, "focus", nil, "Focus areas, e.g. 趋势,竞争 (others widen the keywords)")
	analyzeCmd.Flags().StringSliceVar(&formats, "formats", nil, "Report export formats: html, json, pdf, zip")
	analyzeCmd.Flags().StringVar(&title, "title", "", "Report title")
	analyzeCmd.Flags().StringVar(&searchType, "search-type", "", "Search type: general, patent, academic or news")
	analyzeCmd.Flags().IntVar(&limit, "limit", 50, "Search result limit")
	analyzeCmd.Flags().BoolVar(&jsonOut, "json", false, "Print the full response as JSON")
	analyzeCmd.Flags().DurationVar(&runTimeout, "timeout", 5*time.Minute, "Workflow timeout")

	// Report subcommands
	reportCmd.AddCommand(reportListCmd)
	reportCmd.AddCommand(reportShowCmd)
	reportCmd.AddCommand(reportVersionsCmd)
	reportCmd.AddCommand(reportDeleteCmd)

	// Add commands to root
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(workersCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runAnalyze executes one workflow end to end and prints the outcome.
func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			logger.Info("received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()

	p, err := buildPlatform(cfg, logger)
	if err != nil {
		return err
	}
	defer p.close()
	p.start(ctx)
	if err := p.waitForWorkers(ctx); err != nil {
		return err
	}

	req := driver.Request{
		Content:    strings.Join(args, " "),
		Keywords:   keywords,
		TimeRange:  timeRange,
		FocusAreas: focusAreas,
		Depth:      depth,
		SearchType: searchType,
		Limit:      limit,
		Title:      title,
		Formats:    formats,
	}

	resp, err := p.driver.Execute(ctx, req)
	if resp == nil {
		return err
	}
	if jsonOut {
		if jerr := printJSON(resp); jerr != nil {
			return jerr
		}
		return err
	}
	printResponse(resp)
	return err
}

// runWorkers starts the platform, prints the worker roster and exits.
func runWorkers(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p, err := buildPlatform(cfg, logger)
	if err != nil {
		return err
	}
	defer p.close()
	p.start(ctx)
	if err := p.waitForWorkers(ctx); err != nil {
		return err
	}

	workers := p.manager.Workers()
	sort.Slice(workers, func(i, j int) bool { return workers[i].WorkerID < workers[j].WorkerID })
	loads := p.balancer.Snapshot()

	fmt.Printf("%d workers online\n\n", len(workers))
	for _, w := range workers {
		load := loads[w.WorkerID]
		fmt.Printf("  %-10s %-8s capacity %d  load %d  specialties: %s\n",
			w.WorkerID, w.Status, w.Capacity, load.Load, strings.Join(w.Specialties, ", "))
	}
	return nil
}

// openPipeline opens the report store for the inspection commands. They need
// no workers, so the rest of the platform stays down.
func openPipeline() (*report.Pipeline, error) {
	return report.NewPipeline(report.Config{
		OutputDir:      cfg.Report.OutputDir,
		MaxVersions:    cfg.Report.MaxVersions,
		DefaultFormats: cfg.Report.DefaultFormats,
		Logger:         logger,
	})
}

func runReportList(cmd *cobra.Command, args []string) error {
	p, err := openPipeline()
	if err != nil {
		return err
	}

	reports := p.List()
	if len(reports) == 0 {
		fmt.Println("No reports stored.")
		return nil
	}
	fmt.Printf("%d reports in %s\n\n", len(reports), cfg.Report.OutputDir)
	for _, r := range reports {
		fmt.Printf("  %-20s v%-3d %-28s %s\n",
			r.ReportID, r.LatestVersion, r.UpdatedAt.Format("2006-01-02 15:04:05"), r.Title)
	}
	return nil
}

func runReportShow(cmd *cobra.Command, args []string) error {
	p, err := openPipeline()
	if err != nil {
		return err
	}

	stored, ok := p.Get(args[0])
	if !ok {
		return fmt.Errorf("report %s not found", args[0])
	}
	fmt.Printf("Report:  %s\n", stored.ReportID)
	fmt.Printf("Title:   %s\n", stored.Title)
	fmt.Printf("Version: %d (created %s, updated %s)\n",
		stored.LatestVersion,
		stored.CreatedAt.Format("2006-01-02 15:04:05"),
		stored.UpdatedAt.Format("2006-01-02 15:04:05"))
	fmt.Println("Files:")
	for _, format := range sortedKeys(stored.Files) {
		fmt.Printf("  %-5s %s\n", format, stored.Files[format])
	}
	return nil
}

func runReportVersions(cmd *cobra.Command, args []string) error {
	p, err := openPipeline()
	if err != nil {
		return err
	}

	versions := p.Versions(args[0])
	if len(versions) == 0 {
		return fmt.Errorf("report %s has no versions", args[0])
	}
	fmt.Printf("%d versions of %s\n\n", len(versions), args[0])
	for _, v := range versions {
		formats := make([]string, 0, len(v.Files))
		for format := range v.Files {
			formats = append(formats, format)
		}
		sort.Strings(formats)
		fmt.Printf("  v%-3d %-10s %-20s %s\n",
			v.VersionNumber, v.Status, v.CreatedAt.Format("2006-01-02 15:04:05"),
			strings.Join(formats, ", "))
	}
	return nil
}

func runReportDelete(cmd *cobra.Command, args []string) error {
	p, err := openPipeline()
	if err != nil {
		return err
	}

	if err := p.Delete(args[0]); err != nil {
		return err
	}
	fmt.Printf("Report %s deleted.\n", args[0])
	return nil
}

// printResponse renders the workflow outcome for humans.
func printResponse(resp *driver.Response) {
	fmt.Printf("Workflow: %s (%.2fs)\n", resp.WorkflowID, resp.Elapsed.Seconds())
	fmt.Printf("Records:  %d search hits, %d patents\n", len(resp.Records), len(resp.Patents))

	if a := resp.Analysis; a != nil {
		kinds := a.Modules()
		modules := make([]string, len(kinds))
		for i, kind := range kinds {
			modules[i] = string(kind)
		}
		fmt.Printf("Analysis: %s\n", strings.Join(modules, ", "))
		if t := a.Trend; t != nil {
			fmt.Printf("  trend:       %s / %s (confidence %.2f, mean growth %.1f%%)\n",
				t.Direction.Direction, t.Pattern, t.Direction.Confidence, t.MeanGrowthRate)
		}
		if c := a.Competition; c != nil {
			fmt.Printf("  competition: %d applicants, HHI %.3f, CR4 %.2f (%s)\n",
				c.TotalApplicants, c.HHI, c.CR4, c.ConcentrationLevel)
		}
		if tech := a.Technology; tech != nil {
			head := tech.Keywords
			if len(head) > 5 {
				head = head[:5]
			}
			fmt.Printf("  technology:  %d keywords (%s)\n", len(tech.Keywords), strings.Join(head, ", "))
		}
		if g := a.Geographic; g != nil {
			fmt.Printf("  geographic:  %d countries, top %s\n", len(g.Distribution), g.TopCountry)
		}
	}

	if q := resp.Quality; q != nil {
		fmt.Printf("Quality:  %.2f grade %s (%s)\n", q.OverallQuality, q.Grade, passedWord(q.Passed))
	}
	if c := resp.Consistency; c != nil {
		fmt.Printf("Consistency: %.2f (%s)\n", c.OverallQuality, passedWord(c.Passed))
	}

	if r := resp.Report; r != nil {
		fmt.Printf("Report:   %s v%d %q\n", r.ReportID, r.Version, r.Title)
		for _, format := range sortedKeys(r.Files) {
			fmt.Printf("  %-5s %s\n", format, r.Files[format])
		}
	}

	if len(resp.Notes) > 0 {
		if resp.Degraded {
			fmt.Println("Degraded:")
		} else {
			fmt.Println("Notes:")
		}
		for _, note := range resp.Notes {
			fmt.Printf("  - %s\n", note)
		}
	}
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func passedWord(passed bool) string {
	if passed {
		return "passed"
	}
	return "failed"
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
