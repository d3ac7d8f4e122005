// Command asrtriage triages Korean ASR transcripts: it detects risky spans,
// buckets utterances by batch-relative confidence, applies guardrailed
// auto-fixes, and routes the rest to human review.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/asrtriage/internal/config"
	"github.com/MrWong99/asrtriage/internal/health"
	"github.com/MrWong99/asrtriage/internal/observe"
	"github.com/MrWong99/asrtriage/internal/pipeline"
	"github.com/MrWong99/asrtriage/internal/resilience"
	"github.com/MrWong99/asrtriage/internal/review"
	"github.com/MrWong99/asrtriage/internal/store/postgres"
	"github.com/MrWong99/asrtriage/internal/triage"
	"github.com/MrWong99/asrtriage/internal/verbal"
	"github.com/MrWong99/asrtriage/pkg/provider/gen"
	"github.com/MrWong99/asrtriage/pkg/provider/gen/anyllm"
	openaigen "github.com/MrWong99/asrtriage/pkg/provider/gen/openai"
	"github.com/MrWong99/asrtriage/pkg/types"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return 2
	}
	switch args[0] {
	case "run":
		return runPipeline(args[1:])
	case "export":
		return runExport(args[1:])
	case "import":
		return runImport(args[1:])
	case "normalize":
		return runNormalize(args[1:])
	case "help", "-h", "--help":
		usage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "asrtriage: unknown subcommand %q\n\n", args[0])
		usage()
		return 2
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `Usage: asrtriage <subcommand> [flags]

Subcommands:
  run        triage an utterance JSONL stream into a decisions JSONL stream
  export     export escalated issues to an XLSX review sheet
  import     apply a completed review sheet back onto the decisions
  normalize  rewrite digits, Latin letters, and symbols to spoken Korean

Run "asrtriage <subcommand> -h" for the flags of each subcommand.
`)
}

// ── run ───────────────────────────────────────────────────────────────────────

func runPipeline(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to the YAML configuration file")
	inPath := fs.String("in", "", "input utterance JSONL file (required)")
	outPath := fs.String("out", "decisions.jsonl", "output decisions JSONL file")
	outIssuesPath := fs.String("out-issues", "issues.jsonl", "output JSONL stream of review issues")
	outAvailPath := fs.String("out-avail", "text_avail.jsonl", "output JSONL stream of auto-resolved texts")
	kCandidates := fs.Int("k", 0, "candidates per span (overrides config)")
	contextLen := fs.Int("context-len", 0, "context window in characters (overrides config)")
	workers := fs.Int("workers", 0, "concurrent utterances (overrides config)")
	resume := fs.Bool("resume", false, "skip utterances already present in the output file")
	fs.Parse(args)

	if *inPath == "" {
		fmt.Fprintln(os.Stderr, "asrtriage run: -in is required")
		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	shutdownObs, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: pipeline.Version,
	})
	if err != nil {
		slog.Error("failed to initialise observability", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := shutdownObs(shutdownCtx); err != nil {
			slog.Warn("observability shutdown error", "err", err)
		}
	}()

	metrics := observe.DefaultMetrics()

	// ── Store (optional) ──────────────────────────────────────────────────────
	var store *postgres.Store
	if cfg.Store.PostgresDSN != "" {
		store, err = postgres.NewStore(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			slog.Error("failed to connect to store", "err", err)
			return 1
		}
		defer store.Close()
	}

	var metricsSrv *http.Server
	if cfg.Server.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())

		var checkers []health.Checker
		if store != nil {
			checkers = append(checkers, health.Checker{Name: "store", Check: store.Ping})
		}
		health.New(checkers...).Register(mux)

		metricsSrv = &http.Server{
			Addr:    cfg.Server.MetricsAddr,
			Handler: observe.Middleware(metrics)(mux),
		}
		go func() {
			slog.Info("metrics server listening", "addr", cfg.Server.MetricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server error", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}()
	}

	// ── Generator ─────────────────────────────────────────────────────────────
	reg := newGeneratorRegistry()
	primary, err := reg.Create(cfg.Generator)
	if err != nil {
		slog.Error("failed to create generator", "name", cfg.Generator.Name, "err", err)
		return 1
	}
	slog.Info("generator created", "name", cfg.Generator.Name, "model", cfg.Generator.Model)

	// Every backend sits behind a circuit breaker; configured fallbacks are
	// tried when the primary fails.
	generator := resilience.NewGenerator(cfg.Generator.Name, primary, resilience.BreakerConfig{})
	for _, entry := range cfg.GeneratorFallbacks {
		fb, err := reg.Create(entry)
		if err != nil {
			slog.Error("failed to create fallback generator", "name", entry.Name, "err", err)
			return 1
		}
		generator.AddFallback(entry.Name, fb)
		slog.Info("fallback generator created", "name", entry.Name, "model", entry.Model)
	}

	// ── Input ─────────────────────────────────────────────────────────────────
	in, err := os.Open(*inPath)
	if err != nil {
		slog.Error("failed to open input", "path", *inPath, "err", err)
		return 1
	}
	utts, err := pipeline.ReadUtterances(in)
	in.Close()
	if err != nil {
		slog.Error("failed to read utterances", "path", *inPath, "err", err)
		return 1
	}

	// ── Resumption ────────────────────────────────────────────────────────────
	if *resume {
		done, err := processedIDs(ctx, *outPath, store)
		if err != nil {
			slog.Error("failed to read processed ids", "err", err)
			return 1
		}
		utts = filterDone(utts, done)
		slog.Info("resuming", "already_processed", len(done), "remaining", len(utts))
	}

	printStartupSummary(cfg, len(utts))

	if len(utts) == 0 {
		slog.Info("nothing to do")
		return 0
	}

	// ── Output ────────────────────────────────────────────────────────────────
	outFlags := os.O_CREATE | os.O_WRONLY
	if *resume {
		outFlags |= os.O_APPEND
	} else {
		outFlags |= os.O_TRUNC
	}
	out, err := os.OpenFile(*outPath, outFlags, 0o644)
	if err != nil {
		slog.Error("failed to open output", "path", *outPath, "err", err)
		return 1
	}
	defer out.Close()
	writer := pipeline.NewWriter(out)

	issuesOut, err := os.OpenFile(*outIssuesPath, outFlags, 0o644)
	if err != nil {
		slog.Error("failed to open issues output", "path", *outIssuesPath, "err", err)
		return 1
	}
	defer issuesOut.Close()
	availOut, err := os.OpenFile(*outAvailPath, outFlags, 0o644)
	if err != nil {
		slog.Error("failed to open text_avail output", "path", *outAvailPath, "err", err)
		return 1
	}
	defer availOut.Close()

	// ── Pipeline ──────────────────────────────────────────────────────────────
	opts := orchestratorOptions(cfg, metrics)
	if *kCandidates > 0 {
		opts = append(opts, pipeline.WithKCandidates(*kCandidates))
	}
	if *contextLen > 0 {
		opts = append(opts, pipeline.WithContextLen(*contextLen))
	}
	if *workers > 0 {
		opts = append(opts, pipeline.WithWorkers(*workers))
	}
	orch, err := pipeline.New(generator, opts...)
	if err != nil {
		slog.Error("failed to build pipeline", "err", err)
		return 1
	}

	start := time.Now()
	decisions, err := orch.ProcessBatch(ctx, utts)
	if err != nil {
		slog.Error("batch failed", "err", err)
		return 1
	}

	// The issues stream feeds review export; the text_avail stream carries
	// only utterances whose corrected text was fully released.
	type availRecord struct {
		UttID      string `json:"utt_id"`
		SpeakerID  string `json:"speaker_id"`
		SentenceID string `json:"sentence_id"`
		TextRaw    string `json:"text_raw"`
		TextAvail  string `json:"text_avail"`
		Tier       string `json:"tier"`
		Decision   string `json:"decision"`
	}
	issuesEnc := json.NewEncoder(issuesOut)
	availEnc := json.NewEncoder(availOut)

	for _, dec := range decisions {
		if err := writer.Write(dec); err != nil {
			slog.Error("failed to write decision", "utt_id", dec.UttID, "err", err)
			return 1
		}
		for _, issue := range dec.Issues {
			if err := issuesEnc.Encode(issue); err != nil {
				slog.Error("failed to write issue", "utt_id", dec.UttID, "err", err)
				return 1
			}
		}
		if dec.TextAvail != nil {
			rec := availRecord{
				UttID:      dec.UttID,
				SpeakerID:  dec.SpeakerID,
				SentenceID: dec.SentenceID,
				TextRaw:    dec.TextRaw,
				TextAvail:  *dec.TextAvail,
				Tier:       string(dec.Tier),
				Decision:   string(dec.Decision),
			}
			if err := availEnc.Encode(rec); err != nil {
				slog.Error("failed to write text_avail record", "utt_id", dec.UttID, "err", err)
				return 1
			}
		}
	}
	if store != nil {
		if err := store.SaveAll(ctx, decisions); err != nil {
			slog.Error("failed to persist decisions", "err", err)
			return 1
		}
	}

	logStats(decisions, time.Since(start))
	return 0
}

// orchestratorOptions translates the config into pipeline options, leaving
// unset values to the pipeline defaults.
func orchestratorOptions(cfg *config.Config, metrics *observe.Metrics) []pipeline.Option {
	opts := []pipeline.Option{pipeline.WithMetrics(metrics)}

	if cfg.Correct.KCandidates > 0 {
		opts = append(opts, pipeline.WithKCandidates(cfg.Correct.KCandidates))
	}
	if cfg.Correct.ContextLen > 0 {
		opts = append(opts, pipeline.WithContextLen(cfg.Correct.ContextLen))
	}
	if cfg.Correct.Workers > 0 {
		opts = append(opts, pipeline.WithWorkers(cfg.Correct.Workers))
	}
	if cfg.Correct.GenerateTimeoutSecs > 0 {
		opts = append(opts, pipeline.WithGenerateTimeout(cfg.Correct.GenerateTimeout()))
	}
	if cfg.Triage.PercentilesSet() {
		opts = append(opts, pipeline.WithBucketer(triage.New(triage.WithPercentiles(
			cfg.Triage.RedPercentile, cfg.Triage.OrangePercentile, cfg.Triage.YellowPercentile,
		))))
	}
	if cfg.Triage.DemoteOnQuality {
		opts = append(opts, pipeline.WithQualityDemotion(cfg.Triage.QualityThresholds()))
	}
	return opts
}

// processedIDs collects the utterance IDs already handled, from the output
// file and, when configured, the store.
func processedIDs(ctx context.Context, outPath string, store *postgres.Store) (map[string]struct{}, error) {
	done := make(map[string]struct{})

	f, err := os.Open(outPath)
	if err == nil {
		fileIDs, err := pipeline.ProcessedIDs(f)
		f.Close()
		if err != nil {
			return nil, err
		}
		done = fileIDs
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	if store != nil {
		storeIDs, err := store.ProcessedIDs(ctx)
		if err != nil {
			return nil, err
		}
		for id := range storeIDs {
			done[id] = struct{}{}
		}
	}
	return done, nil
}

// filterDone drops utterances whose derived ID is already processed, using
// the same derivation the pipeline applies.
func filterDone(utts []types.Utterance, done map[string]struct{}) []types.Utterance {
	out := utts[:0]
	for _, u := range utts {
		id := u.ID
		if id == "" {
			id = u.SpeakerID + "_" + u.SentenceID
		}
		if _, ok := done[id]; ok {
			continue
		}
		out = append(out, u)
	}
	return out
}

func logStats(decs []types.Decision, elapsed time.Duration) {
	tiers := make(map[types.Tier]int)
	actions := make(map[types.Action]int)
	issues := 0
	for _, d := range decs {
		tiers[d.Tier]++
		actions[d.Decision]++
		issues += len(d.Issues)
	}
	slog.Info("run complete",
		"utterances", len(decs),
		"elapsed", elapsed.Round(time.Millisecond),
		"red", tiers[types.TierRed],
		"orange", tiers[types.TierOrange],
		"yellow", tiers[types.TierYellow],
		"green", tiers[types.TierGreen],
		"auto_fix", actions[types.ActionAutoFix],
		"needs_review", actions[types.ActionNeedsReview],
		"pass", actions[types.ActionPass],
		"open_issues", issues,
	)
}

// ── export ────────────────────────────────────────────────────────────────────

func runExport(args []string) int {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to the YAML configuration file")
	inPath := fs.String("in", "decisions.jsonl", "decisions JSONL file (ignored when a store is configured)")
	outPath := fs.String("out", "review.xlsx", "output XLSX review sheet")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return 1
	}
	slog.SetDefault(newLogger(cfg.Server.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var decisions []types.Decision
	if cfg.Store.PostgresDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			slog.Error("failed to connect to store", "err", err)
			return 1
		}
		defer store.Close()

		decisions, err = store.EscalatedDecisions(ctx)
		if err != nil {
			slog.Error("failed to load escalated decisions", "err", err)
			return 1
		}
	} else {
		all, err := readDecisionsFile(*inPath)
		if err != nil {
			slog.Error("failed to read decisions", "path", *inPath, "err", err)
			return 1
		}
		for _, d := range all {
			if d.Decision == types.ActionNeedsReview {
				decisions = append(decisions, d)
			}
		}
	}

	rows, err := review.ExportXLSX(*outPath, decisions)
	if err != nil {
		slog.Error("export failed", "err", err)
		return 1
	}
	slog.Info("review sheet written", "path", *outPath, "utterances", len(decisions), "issue_rows", rows)
	return 0
}

// ── import ────────────────────────────────────────────────────────────────────

func runImport(args []string) int {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to the YAML configuration file")
	decPath := fs.String("decisions", "decisions.jsonl", "decisions JSONL file the sheet was exported from")
	fixesPath := fs.String("fixes", "review.xlsx", "completed XLSX review sheet")
	outPath := fs.String("out", "resolved.jsonl", "output JSONL of resolved texts")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return 1
	}
	slog.SetDefault(newLogger(cfg.Server.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	decisions, err := readDecisionsFile(*decPath)
	if err != nil {
		slog.Error("failed to read decisions", "path", *decPath, "err", err)
		return 1
	}

	fixes, err := review.ImportXLSX(*fixesPath)
	if err != nil {
		slog.Error("failed to read review sheet", "path", *fixesPath, "err", err)
		return 1
	}

	resolutions, err := review.Resolve(decisions, fixes)
	if err != nil {
		slog.Error("failed to resolve fixes", "err", err)
		return 1
	}

	out, err := os.Create(*outPath)
	if err != nil {
		slog.Error("failed to open output", "path", *outPath, "err", err)
		return 1
	}
	defer out.Close()

	var store *postgres.Store
	if cfg.Store.PostgresDSN != "" {
		store, err = postgres.NewStore(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			slog.Error("failed to connect to store", "err", err)
			return 1
		}
		defer store.Close()
	}

	type resolvedRecord struct {
		UttID     string `json:"utt_id"`
		TextFinal string `json:"text_final"`
		Applied   int    `json:"applied"`
		Dropped   int    `json:"dropped"`
	}
	enc := json.NewEncoder(out)

	applied, dropped := 0, 0
	for _, r := range resolutions {
		rec := resolvedRecord{UttID: r.UttID, TextFinal: r.TextFinal, Applied: r.Applied, Dropped: r.Dropped}
		if err := enc.Encode(rec); err != nil {
			slog.Error("failed to write resolution", "utt_id", r.UttID, "err", err)
			return 1
		}
		if store != nil {
			if err := store.ResolveDecision(ctx, r.UttID, r.TextFinal); err != nil {
				slog.Error("failed to persist resolution", "utt_id", r.UttID, "err", err)
				return 1
			}
		}
		applied += r.Applied
		dropped += r.Dropped
	}

	slog.Info("review sheet applied",
		"utterances", len(resolutions),
		"fixes_applied", applied,
		"fixes_dropped", dropped,
	)
	return 0
}

// ── normalize ─────────────────────────────────────────────────────────────────

func runNormalize(args []string) int {
	fs := flag.NewFlagSet("normalize", flag.ExitOnError)
	inPath := fs.String("in", "-", "input text file, one sentence per line (- for stdin)")
	outPath := fs.String("out", "-", "output text file (- for stdout)")
	fs.Parse(args)

	var in io.Reader = os.Stdin
	if *inPath != "-" {
		f, err := os.Open(*inPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "asrtriage normalize: %v\n", err)
			return 1
		}
		defer f.Close()
		in = f
	}

	var out io.Writer = os.Stdout
	if *outPath != "-" {
		f, err := os.Create(*outPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "asrtriage normalize: %v\n", err)
			return 1
		}
		defer f.Close()
		out = f
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if _, err := fmt.Fprintln(out, verbal.Normalize(scanner.Text())); err != nil {
			fmt.Fprintf(os.Stderr, "asrtriage normalize: %v\n", err)
			return 1
		}
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "asrtriage normalize: %v\n", err)
		return 1
	}
	return 0
}

// ── Generator wiring ──────────────────────────────────────────────────────────

// newGeneratorRegistry wires all built-in generation backends. The any-llm-go
// backends share a pattern of optional APIKey + optional BaseURL;
// "openai-native" talks to the OpenAI API through its official SDK instead.
func newGeneratorRegistry() *config.Registry {
	reg := config.NewRegistry()

	for _, name := range []string{
		"openai", "anthropic", "gemini",
		"deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.Register(name, func(entry config.ProviderEntry) (gen.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			p, err := anyllm.New(name, entry.Model, opts)
			if err != nil {
				return nil, err
			}
			return p, nil
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.Register("ollama", func(entry config.ProviderEntry) (gen.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		p, err := anyllm.New("ollama", entry.Model, opts)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	reg.Register("openai-native", func(entry config.ProviderEntry) (gen.Provider, error) {
		var opts []openaigen.Option
		if entry.BaseURL != "" {
			opts = append(opts, openaigen.WithBaseURL(entry.BaseURL))
		}
		p, err := openaigen.New(entry.APIKey, entry.Model, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	return reg
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, utterances int) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       asrtriage — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Generator", summaryValue(cfg.Generator.Name, cfg.Generator.Model))
	printRow("Utterances", fmt.Sprintf("%d", utterances))
	if cfg.Store.PostgresDSN != "" {
		printRow("Store", "postgres")
	} else {
		printRow("Store", "(jsonl only)")
	}
	if cfg.Server.MetricsAddr != "" {
		printRow("Metrics", cfg.Server.MetricsAddr)
	} else {
		printRow("Metrics", "(disabled)")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func summaryValue(name, model string) string {
	if name == "" {
		return "(not configured)"
	}
	if model != "" {
		return name + " / " + model
	}
	return name
}

func printRow(kind, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", kind, value)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "asrtriage: config file %q not found — copy configs/example.yaml to get started\n", path)
		} else {
			fmt.Fprintf(os.Stderr, "asrtriage: %v\n", err)
		}
		return nil, err
	}
	return cfg, nil
}

func readDecisionsFile(path string) ([]types.Decision, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return pipeline.ReadDecisions(f)
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
