package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/gradescan/internal/answerkey"
	"github.com/pavelanni/gradescan/internal/drive"
	"github.com/pavelanni/gradescan/internal/extract"
	"github.com/pavelanni/gradescan/internal/extract/gemini"
	"github.com/pavelanni/gradescan/internal/extract/openai"
	"github.com/pavelanni/gradescan/internal/extract/tesseract"
	"github.com/pavelanni/gradescan/internal/grade"
	"github.com/pavelanni/gradescan/internal/handler"
	"github.com/pavelanni/gradescan/internal/model"
	"github.com/pavelanni/gradescan/internal/pipeline"
	"github.com/pavelanni/gradescan/internal/roster"
	"github.com/pavelanni/gradescan/internal/sheets"
	"github.com/pavelanni/gradescan/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "gradescan",
		Short: "Answer sheet evaluator with OCR and LLM grading",
	}

	serve := serveCmd()
	root.AddCommand(serve, keyCmd(), evaluateCmd(), exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `gradescan --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addCommonFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("db-driver", "sqlite", "Database driver (sqlite, postgres)")
	f.String("db-dsn", "", "Database DSN (driver default when empty)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func addProviderFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringSlice("providers", []string{"gemini", "openai", "tesseract"}, "Extraction provider failover order")
	f.Duration("provider-timeout", 90*time.Second, "Per-provider timeout for one extraction call")
	f.String("gemini-key", "", "Gemini API key (or GRADESCAN_GEMINI_KEY)")
	f.String("gemini-model", "gemini-1.5-flash", "Gemini model for vision extraction")
	f.String("openai-url", "", "OpenAI-compatible API base URL (empty = api.openai.com)")
	f.String("openai-key", "", "OpenAI API key (or GRADESCAN_OPENAI_KEY)")
	f.String("openai-model", "gpt-4o-mini", "OpenAI model for vision extraction")
	f.String("tesseract-lang", "eng", "Tesseract OCR language")
	f.Float64("negative-marking", 0, "Marks deducted per wrong answer when the key omits it")
	f.String("grading-model", "", "LLM model for subjective grading (empty = extraction models)")
	f.String("rubrics", "", "Path to rubrics JSON for subjective questions")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP evaluation server",
		RunE:  runServe,
	}
	addCommonFlags(cmd)
	addProviderFlags(cmd)
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.Int("max-concurrent", 4, "Concurrently processed submissions per batch")
	f.String("credentials", "credentials.json", "Google service account credentials file")
	f.String("google-api-key", "", "Google API key for public Drive folders")
	f.Float64("name-threshold", 0.5, "Name similarity below which a match is flagged")
	return cmd
}

func keyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key <file>",
		Short: "Parse an answer key file and store it",
		Args:  cobra.ExactArgs(1),
		RunE:  runKey,
	}
	addCommonFlags(cmd)
	addProviderFlags(cmd)
	f := cmd.Flags()
	f.String("key-id", "", "Identifier for the stored key (default: derived from file name)")
	return cmd
}

func evaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate a folder of answer sheets against a stored key",
		RunE:  runEvaluate,
	}
	addCommonFlags(cmd)
	addProviderFlags(cmd)
	f := cmd.Flags()
	f.String("dir", "", "Local directory of answer sheet images/PDFs")
	f.String("drive-folder", "", "Google Drive folder URL or ID with answer sheets")
	f.String("credentials", "credentials.json", "Google service account credentials file")
	f.String("google-api-key", "", "Google API key for public Drive folders")
	f.String("key-id", "", "Stored answer key to score against (default: latest)")
	f.String("sheet-url", "", "Google Sheet roster URL to write marks into")
	f.Float64("name-threshold", 0.5, "Name similarity below which a match is flagged")
	f.Int("max-concurrent", 4, "Concurrently processed submissions")
	f.StringP("output", "o", "-", "Batch summary output path (- for stdout)")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <job-id>",
		Short: "Export stored results of a job as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  runExport,
	}
	addCommonFlags(cmd)
	f := cmd.Flags()
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("GRADESCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("gradescan")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/gradescan")
	v.AddConfigPath("/etc/gradescan")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func openStore(ctx context.Context, v *viper.Viper) (*store.Store, error) {
	return store.Open(ctx, store.Driver(v.GetString("db-driver")), v.GetString("db-dsn"))
}

func buildRouter(v *viper.Viper) *extract.Router {
	var providers []extract.Provider
	for _, name := range v.GetStringSlice("providers") {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "gemini":
			providers = append(providers, gemini.New(v.GetString("gemini-key"), v.GetString("gemini-model")))
		case "openai":
			providers = append(providers, openai.New(v.GetString("openai-url"), v.GetString("openai-key"), v.GetString("openai-model")))
		case "tesseract":
			providers = append(providers, tesseract.New(v.GetString("tesseract-lang")))
		default:
			slog.Warn("unknown provider, skipping", "provider", name)
		}
	}
	return extract.NewRouter(v.GetDuration("provider-timeout"), providers...)
}

func buildGrader(v *viper.Viper) *grade.Grader {
	gradingModel := v.GetString("grading-model")
	var models []grade.Model
	if key := v.GetString("gemini-key"); key != "" || gradingModel == "" {
		name := gradingModel
		if name == "" {
			name = v.GetString("gemini-model")
		}
		models = append(models, grade.NewGeminiModel(key, name))
	}
	if key := v.GetString("openai-key"); key != "" || v.GetString("openai-url") != "" {
		name := gradingModel
		if name == "" {
			name = v.GetString("openai-model")
		}
		models = append(models, grade.NewOpenAIModel(v.GetString("openai-url"), key, name))
	}
	return grade.NewGrader(v.GetDuration("provider-timeout"), models...)
}

func loadRubrics(path string) ([]model.Rubric, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rubrics: %w", err)
	}
	var rubrics []model.Rubric
	if err := json.Unmarshal(data, &rubrics); err != nil {
		return nil, fmt.Errorf("parse rubrics: %w", err)
	}
	return rubrics, nil
}

func pipelineConfig(v *viper.Viper) model.PipelineConfig {
	return model.PipelineConfig{
		ProviderOrder:   v.GetStringSlice("providers"),
		ProviderTimeout: v.GetDuration("provider-timeout"),
		NegativeMarking: v.GetFloat64("negative-marking"),
		NameThreshold:   v.GetFloat64("name-threshold"),
		MaxConcurrent:   v.GetInt("max-concurrent"),
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	db, err := openStore(ctx, v)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	rubrics, err := loadRubrics(v.GetString("rubrics"))
	if err != nil {
		return err
	}

	router := buildRouter(v)
	keys := answerkey.NewBuilder(router, v.GetFloat64("negative-marking"))
	h := handler.New(db, keys, router, buildGrader(v), rubrics, pipelineConfig(v))

	dcl, err := drive.New(ctx, v.GetString("credentials"), v.GetString("google-api-key"))
	if err != nil {
		slog.Warn("drive integration disabled", "error", err)
		dcl = nil
	}
	scl, err := sheets.New(ctx, v.GetString("credentials"))
	if err != nil {
		slog.Warn("sheets integration disabled", "error", err)
		scl = nil
	}
	h.EnableGoogle(dcl, scl, v.GetFloat64("name-threshold"))

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	h.Routes(r)

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"providers", v.GetStringSlice("providers"),
		"db_driver", v.GetString("db-driver"),
		"max_concurrent", v.GetInt("max-concurrent"),
	)
	return http.ListenAndServe(addr, r)
}

func runKey(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	db, err := openStore(ctx, v)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read key file: %w", err)
	}

	builder := answerkey.NewBuilder(buildRouter(v), v.GetFloat64("negative-marking"))
	key, warnings, err := builder.Build(ctx, data, filepath.Base(path), "")
	if err != nil {
		return fmt.Errorf("build answer key: %w", err)
	}
	for _, w := range warnings {
		slog.Warn("answer key", "warning", w)
	}

	keyID := v.GetString("key-id")
	if keyID == "" {
		keyID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if err := db.SaveKey(ctx, keyID, key); err != nil {
		return fmt.Errorf("store answer key: %w", err)
	}

	fmt.Printf("stored answer key %q: %d questions, max score %g\n", keyID, key.TotalQuestions, key.MaxScore())
	return nil
}

func runEvaluate(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	db, err := openStore(ctx, v)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	router := buildRouter(v)
	rubrics, err := loadRubrics(v.GetString("rubrics"))
	if err != nil {
		return err
	}

	subs, keyFromFolder, err := collectSubmissions(ctx, v, router)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		return fmt.Errorf("no answer sheets found")
	}

	keyID := v.GetString("key-id")
	var key model.AnswerKey
	switch {
	case keyID != "":
		if key, err = db.GetKey(ctx, keyID); err != nil {
			return err
		}
	case keyFromFolder != nil:
		key = *keyFromFolder
		keyID = "drive-" + key.Metadata.SourceFile
		if err := db.SaveKey(ctx, keyID, key); err != nil {
			return fmt.Errorf("store answer key: %w", err)
		}
	default:
		if keyID, err = db.LatestKeyID(ctx); err != nil {
			return fmt.Errorf("no answer key: run `gradescan key` first or put one in the folder")
		}
		if key, err = db.GetKey(ctx, keyID); err != nil {
			return err
		}
	}

	jobID := fmt.Sprintf("job-%d", time.Now().Unix())
	job := pipeline.NewJob(jobID, subs)
	runner := pipeline.NewRunner(router, buildGrader(v), key, rubrics, v.GetInt("max-concurrent"))
	if err := runner.Run(ctx, job, subs); err != nil {
		return fmt.Errorf("run batch: %w", err)
	}

	summary := job.Snapshot()
	if err := db.SaveBatch(ctx, jobID, keyID, summary); err != nil {
		return fmt.Errorf("persist results: %w", err)
	}
	for _, sub := range subs {
		if err := db.MarkProcessed(ctx, sub.ID, sub.FileName, jobID); err != nil {
			return fmt.Errorf("mark processed: %w", err)
		}
	}
	slog.Info("batch finished", "job", jobID, "done", summary.Done, "failed", summary.Failed)

	out := map[string]any{"job_id": jobID, "summary": summary}
	if sheetURL := v.GetString("sheet-url"); sheetURL != "" {
		recon, err := writeBackMarks(ctx, v, sheetURL, summary.Outcomes)
		if err != nil {
			return err
		}
		out["reconciliation"] = recon
	}

	return writeOutput(v.GetString("output"), out)
}

// collectSubmissions gathers sheets from --dir or --drive-folder. When a
// Drive folder contains an answer key file, it is parsed and returned
// alongside the sheets.
func collectSubmissions(ctx context.Context, v *viper.Viper, router *extract.Router) ([]pipeline.Submission, *model.AnswerKey, error) {
	dir := v.GetString("dir")
	folder := v.GetString("drive-folder")
	switch {
	case dir != "" && folder != "":
		return nil, nil, fmt.Errorf("--dir and --drive-folder are mutually exclusive")
	case dir != "":
		subs, err := submissionsFromDir(dir)
		return subs, nil, err
	case folder != "":
		return submissionsFromDrive(ctx, v, router, folder)
	default:
		return nil, nil, fmt.Errorf("one of --dir or --drive-folder is required")
	}
}

var sheetExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".webp": true, ".pdf": true,
}

func submissionsFromDir(dir string) ([]pipeline.Submission, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var subs []pipeline.Submission
	for _, e := range entries {
		if e.IsDir() || !sheetExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", e.Name(), err)
		}
		sum := sha256.Sum256(data)
		subs = append(subs, pipeline.Submission{
			ID:       hex.EncodeToString(sum[:]),
			FileName: e.Name(),
			Data:     data,
		})
	}
	return subs, nil
}

func submissionsFromDrive(ctx context.Context, v *viper.Viper, router *extract.Router, folder string) ([]pipeline.Submission, *model.AnswerKey, error) {
	cl, err := drive.New(ctx, v.GetString("credentials"), v.GetString("google-api-key"))
	if err != nil {
		return nil, nil, err
	}

	files, err := cl.ListFolder(ctx, drive.ParseFolderURL(folder), "")
	if err != nil {
		return nil, nil, err
	}
	keyFiles, sheetFiles := drive.SplitAnswerKey(files)

	var key *model.AnswerKey
	if len(keyFiles) > 0 {
		data, name, mime, err := cl.DownloadKey(ctx, keyFiles[0])
		if err != nil {
			return nil, nil, fmt.Errorf("download answer key: %w", err)
		}
		builder := answerkey.NewBuilder(router, v.GetFloat64("negative-marking"))
		built, warnings, err := builder.Build(ctx, data, name, mime)
		if err != nil {
			return nil, nil, fmt.Errorf("parse answer key %s: %w", name, err)
		}
		for _, w := range warnings {
			slog.Warn("answer key", "warning", w)
		}
		key = &built
	}

	var subs []pipeline.Submission
	for _, f := range sheetFiles {
		data, err := cl.Download(ctx, f.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("download %s: %w", f.Name, err)
		}
		sum := sha256.Sum256(data)
		subs = append(subs, pipeline.Submission{
			ID:       hex.EncodeToString(sum[:]),
			FileName: f.Name,
			MimeType: f.MimeType,
			Data:     data,
		})
	}
	return subs, key, nil
}

func writeBackMarks(ctx context.Context, v *viper.Viper, sheetURL string, outcomes []model.SubmissionOutcome) (model.ReconcileSummary, error) {
	cl, err := sheets.New(ctx, v.GetString("credentials"))
	if err != nil {
		return model.ReconcileSummary{}, err
	}
	ros, err := cl.ReadRoster(ctx, sheetURL)
	if err != nil {
		return model.ReconcileSummary{}, err
	}

	summary := roster.Reconcile(outcomes, ros.Rows, ros.MarksColumn, v.GetFloat64("name-threshold"))
	if err := cl.ApplyWrites(ctx, ros, summary.Writes); err != nil {
		return model.ReconcileSummary{}, err
	}
	for _, mm := range summary.NameMismatches {
		slog.Warn("name mismatch",
			"entry", mm.EntryNumber, "roster", mm.RosterName, "extracted", mm.ResultName, "row", mm.Row)
	}
	slog.Info("roster updated",
		"updated", summary.Updated,
		"not_in_roster", len(summary.NotFoundInRoster),
		"not_in_results", len(summary.NotFoundInResults),
	)
	return summary, nil
}

func runExport(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	db, err := openStore(ctx, v)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	outcomes, err := db.ListOutcomes(ctx, args[0])
	if err != nil {
		return fmt.Errorf("list results: %w", err)
	}
	if len(outcomes) == 0 {
		return fmt.Errorf("no stored results for job %q", args[0])
	}

	return writeOutput(v.GetString("output"), outcomes)
}

func writeOutput(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	data = append(data, '\n')
	if path == "" || path == "-" {
		_, err = os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
