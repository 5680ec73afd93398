package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bisheshkhanal/ragebaiter/internal/aggregator"
	"github.com/bisheshkhanal/ragebaiter/internal/ai"
	"github.com/bisheshkhanal/ragebaiter/internal/cache"
	"github.com/bisheshkhanal/ragebaiter/internal/config"
	"github.com/bisheshkhanal/ragebaiter/internal/db"
	"github.com/bisheshkhanal/ragebaiter/internal/decision"
	"github.com/bisheshkhanal/ragebaiter/internal/dispatch"
	"github.com/bisheshkhanal/ragebaiter/internal/metrics"
	"github.com/bisheshkhanal/ragebaiter/internal/output"
	"github.com/bisheshkhanal/ragebaiter/internal/parser"
	"github.com/bisheshkhanal/ragebaiter/internal/pipeline"
	"github.com/bisheshkhanal/ragebaiter/internal/profile"
	"github.com/bisheshkhanal/ragebaiter/internal/rate"
	"github.com/bisheshkhanal/ragebaiter/internal/stance"
)

var (
	screenPosts       string
	screenViewer      string
	screenSocial      float64
	screenEconomic    float64
	screenPopulist    float64
	screenOutput      string
	screenNoReport    bool
	screenModel       string
	screenConcurrency int
	screenTimeout     time.Duration
	screenSensitivity string
	screenTraceDB     string
	screenMetricsAddr string
	screenWatch       bool
	screenMaxPosts    int
)

var screenCmd = &cobra.Command{
	Use:   "screen",
	Short: "Screen a file of posts for one viewer",
	Long: `Screen newline-delimited JSON posts ({"id", "text", "url", "context"}) for
one viewer. Political posts are analyzed, scored against the viewer's position,
and turned into interventions when they mirror that position or rely on weak
arguments. Writes a markdown report to .ragebaiter/<run>/ and optionally stores
decision traces in DuckDB.`,
	RunE: runScreen,
}

func init() {
	rootCmd.AddCommand(screenCmd)

	screenCmd.Flags().StringVarP(&screenPosts, "posts", "p", "", "Path (or glob) of the JSONL posts file")
	screenCmd.Flags().StringVar(&screenViewer, "viewer", "local", "Viewer id used for profile lookup and cooldown")
	screenCmd.Flags().Float64Var(&screenSocial, "social", 0, "Viewer social axis when no profile store is configured")
	screenCmd.Flags().Float64Var(&screenEconomic, "economic", 0, "Viewer economic axis when no profile store is configured")
	screenCmd.Flags().Float64Var(&screenPopulist, "populist", 0, "Viewer populist axis when no profile store is configured")
	screenCmd.Flags().StringVarP(&screenOutput, "output", "o", "", "Directory for the report (default: current directory)")
	screenCmd.Flags().BoolVar(&screenNoReport, "no-report", false, "Skip writing the markdown report")
	screenCmd.Flags().StringVar(&screenModel, "model", "", "OpenRouter model to use (overrides RAGEBAITER_MODEL)")
	screenCmd.Flags().IntVar(&screenConcurrency, "concurrency", 0, "Max concurrent backend calls (overrides RAGEBAITER_MAX_CONCURRENCY)")
	screenCmd.Flags().DurationVar(&screenTimeout, "timeout", 0, "Per-attempt backend timeout (overrides RAGEBAITER_BACKEND_TIMEOUT)")
	screenCmd.Flags().StringVar(&screenSensitivity, "sensitivity", "", "Keyword filter sensitivity: low, medium, high")
	screenCmd.Flags().StringVar(&screenTraceDB, "trace-db", "", "DuckDB file for decision traces (overrides RAGEBAITER_TRACE_DB)")
	screenCmd.Flags().StringVar(&screenMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while screening")
	screenCmd.Flags().BoolVar(&screenWatch, "watch", false, "Reload concurrency, timeout and sensitivity when the env file changes")
	screenCmd.Flags().IntVar(&screenMaxPosts, "max-posts", 0, "Max posts to screen for debugging (0 = no limit)")
	_ = screenCmd.MarkFlagRequired("posts")
}

func runScreen(cmd *cobra.Command, args []string) error {
	settings, logger, err := loadSettings()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if screenModel != "" {
		settings.Model = screenModel
	}
	if screenTraceDB != "" {
		settings.TraceDB = screenTraceDB
	}
	initial, err := pipelineOverrides(settings.Pipeline())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	reg := metrics.NewRegistry()
	m := metrics.New(reg)
	if screenMetricsAddr != "" {
		srv := serveMetrics(screenMetricsAddr, reg, logger)
		defer shutdown(srv)
	}

	database, err := db.Open(settings.TraceDB)
	if err != nil {
		return err
	}
	defer database.Close()

	p := parser.NewParser(database)
	total, err := p.CountPosts(screenPosts)
	if err != nil {
		return err
	}
	if total == 0 {
		return fmt.Errorf("no posts found in %s", screenPosts)
	}
	posts, err := p.ReadPosts(screenPosts)
	if err != nil {
		return fmt.Errorf("failed to read posts: %w", err)
	}
	if screenMaxPosts > 0 && len(posts) > screenMaxPosts {
		fmt.Printf("Limiting to %d of %d posts for debugging\n", screenMaxPosts, total)
		posts = posts[:screenMaxPosts]
	}
	fmt.Printf("Loaded %d posts from %s\n", len(posts), screenPosts)

	client, err := ai.NewClient(ai.Config{
		BaseURL: settings.BaseURL,
		APIKey:  settings.APIKey,
		Model:   settings.Model,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize analysis client: %w", err)
	}
	limiter := rate.NewLimiter(settings.MaxRPS, nil).WithMetrics(m)
	analyzer := ai.NewAnalyzer(client, limiter, ai.WithLogger(logger), ai.WithMetrics(m))

	gate, err := pipeline.NewExprGate(settings.GateExpr, logger)
	if err != nil {
		return err
	}

	profiles, closeProfiles, err := openProfiles(ctx, settings.RedisURL)
	if err != nil {
		return err
	}
	defer closeProfiles()

	var (
		dispatcher pipeline.Dispatcher
		queue      *dispatch.Channel
		printed    chan int
	)
	if settings.WebhookURL != "" {
		wh, err := dispatch.NewWebhook(dispatch.WebhookConfig{URL: settings.WebhookURL, Logger: logger, Metrics: m})
		if err != nil {
			return err
		}
		dispatcher = wh
		fmt.Printf("Delivering interventions to %s\n", settings.WebhookURL)
	} else {
		// Every post yields at most one intervention, so the queue never fills.
		queue = dispatch.NewChannel(len(posts))
		dispatcher = queue
		printed = make(chan int, 1)
		go func() { printed <- printInterventions(os.Stdout, queue.Interventions()) }()
	}

	live := config.NewLive(initial, logger, m)
	if screenWatch {
		go func() {
			if err := live.Watch(ctx, envFile); err != nil {
				logger.Warn("config watcher stopped", zap.Error(err))
			}
		}()
	}

	engine := decision.NewEngine(
		decision.WithDefaultCooldown(settings.Cooldown),
		decision.WithLogger(logger),
		decision.WithMetrics(m),
	)
	resultCache := cache.New(settings.CacheSize, cache.WithTTL(settings.CacheTTL), cache.WithMetrics(m))

	orch, err := pipeline.New(pipeline.Deps{
		Analyzer:   analyzer,
		Gate:       gate,
		Profiles:   profiles,
		Dispatcher: dispatcher,
		Settings:   live,
		Engine:     engine,
		Logger:     logger,
		Metrics:    m,
	}, pipeline.WithCache(resultCache))
	if err != nil {
		return err
	}

	fmt.Printf("Using model: %s\n", settings.Model)
	fmt.Printf("Sensitivity: %s, concurrency: %d, timeout: %s\n", initial.Sensitivity, initial.MaxConcurrency, initial.BackendTimeout)

	runID := uuid.NewString()
	started := time.Now()
	outcomes := orch.ProcessBatch(ctx, posts, screenViewer)
	if queue != nil {
		queue.Close()
		logger.Debug("intervention stream closed", zap.Int("printed", <-printed))
	}
	summary := aggregator.Summarize(outcomes)
	printSummary(summary, time.Since(started))

	if !screenNoReport {
		dir, err := resolveOutputDir(screenOutput)
		if err != nil {
			return err
		}
		byID := make(map[string]stance.Post, len(posts))
		for _, p := range posts {
			byID[p.ID] = p
		}
		files, err := output.NewGenerator(dir).Generate(output.Run{
			ID:        runID,
			ViewerID:  screenViewer,
			StartedAt: started,
			Summary:   summary,
			Posts:     byID,
		})
		if err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		fmt.Printf("Wrote %d report files\n", len(files))
		for _, f := range files {
			fmt.Printf("  - %s\n", f)
		}
	}

	if settings.TraceDB != "" {
		if err := storeTraces(context.Background(), db.NewTraceStore(database), runID, outcomes); err != nil {
			return err
		}
		fmt.Printf("Stored %d decision traces in %s (run %s)\n", len(outcomes), settings.TraceDB, runID)
	}

	return nil
}

// pipelineOverrides applies the screen flags on top of the env snapshot.
func pipelineOverrides(p config.Pipeline) (config.Pipeline, error) {
	if screenConcurrency != 0 {
		if screenConcurrency < 1 {
			return p, fmt.Errorf("--concurrency must be at least 1, got %d", screenConcurrency)
		}
		p.MaxConcurrency = screenConcurrency
	}
	if screenTimeout != 0 {
		if screenTimeout < 0 {
			return p, fmt.Errorf("--timeout must be positive, got %s", screenTimeout)
		}
		p.BackendTimeout = screenTimeout
	}
	if screenSensitivity != "" {
		s, err := config.ParseSensitivity(screenSensitivity)
		if err != nil {
			return p, err
		}
		p.Sensitivity = s
	}
	return p, nil
}

func openProfiles(ctx context.Context, redisURL string) (pipeline.Profiles, func(), error) {
	if redisURL == "" {
		static := profile.NewStatic(stance.ViewerProfile{
			Vector: stance.Vector{Social: screenSocial, Economic: screenEconomic, Populist: screenPopulist},
		})
		return static, func() {}, nil
	}

	r, err := profile.DialRedis(ctx, redisURL)
	if err != nil {
		return nil, nil, err
	}
	fmt.Println("Reading viewer profiles from redis")
	return r, func() { _ = r.Close() }, nil
}

func storeTraces(ctx context.Context, store *db.TraceStore, runID string, outcomes []pipeline.Outcome) error {
	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}
	now := time.Now()
	records := make([]db.TraceRecord, 0, len(outcomes))
	for _, out := range outcomes {
		records = append(records, db.FromOutcome(runID, screenViewer, out, now))
	}
	return store.Insert(ctx, records)
}

func printSummary(s aggregator.Summary, elapsed time.Duration) {
	fmt.Printf("Screened %d posts in %s\n", s.Total, elapsed.Round(time.Millisecond))
	fmt.Printf("  - %d skipped\n", s.ByStage[pipeline.StageSkipped])
	fmt.Printf("  - %d not political\n", s.ByStage[pipeline.StageKeywordFilter])
	fmt.Printf("  - %d analyzed (%d from cache)\n", s.Analyzed, s.CacheHits)
	fmt.Printf("  - %s interventions\n", color.New(color.FgHiRed, color.Bold).Sprint(s.Interventions))
	fmt.Printf("  - %d suppressed by cooldown\n", s.Suppressed)
	fmt.Printf("  - %d errors\n", s.Errors)
	if s.Analyzed > 0 {
		fmt.Printf("Mean distance from viewer: %.3f\n", s.MeanDistance)
	}
	for _, out := range s.Flagged {
		fmt.Printf("  %s %s (%s)\n", levelColor(out.Verdict.Level).Sprintf("%-8s", out.Verdict.Level), out.PostID, out.Verdict.Action)
	}
}

// printInterventions writes one line per intervention until ch is closed and
// returns how many it wrote.
func printInterventions(w io.Writer, ch <-chan pipeline.Intervention) int {
	n := 0
	for iv := range ch {
		n++
		fmt.Fprintf(w, "! %s %s: %s\n", levelColor(iv.Level).Sprint(iv.Level), iv.PostID, iv.Reason)
	}
	return n
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	fmt.Printf("Serving metrics on http://%s/metrics\n", addr)
	return srv
}

func shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

func resolveOutputDir(path string) (string, error) {
	if path == "" {
		return os.Getwd()
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("path does not exist: %w", err)
	}

	if !info.IsDir() {
		return "", fmt.Errorf("path is not a directory: %s", absPath)
	}

	return absPath, nil
}
