package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"analyst/internal/config"
	"analyst/internal/embedding"
	"analyst/internal/llm"
	"analyst/internal/memory"
	"analyst/internal/notes"
	"analyst/internal/render"
	"analyst/internal/retrieval"
	"analyst/internal/sandbox"
	"analyst/internal/session"
	"analyst/internal/tools"
	"analyst/internal/warehouse"
)

var (
	configPath string
	verbose    bool
	showTrace  bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "analyst",
	Short: "analyst - verifiable data analysis over a SQL warehouse",
	Long: `analyst answers natural-language questions about a SQL warehouse.

Every value it reports is computed by executing SQL plus a sandboxed
transform; the model proposes the computation but never fabricates the
number. Schema, past queries and observations are indexed in an
embedding memory and retrieved as context for each question.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
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

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question about the warehouse",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Reindex the warehouse schema into memory",
	Args:  cobra.NoArgs,
	RunE:  runIndex,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show memory collection sizes",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

var notesCmd = &cobra.Command{
	Use:   "notes",
	Short: "Print the working notes",
	Args:  cobra.NoArgs,
	RunE:  runNotes,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "analyst.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	askCmd.Flags().BoolVar(&showTrace, "trace", false, "show tool activity")

	rootCmd.AddCommand(askCmd, indexCmd, statsCmd, notesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app holds the wired subsystems for one invocation.
type app struct {
	cfg       config.Config
	warehouse *warehouse.DB
	memory    *memory.Store
	notes     *notes.File
	loop      *session.Loop
}

func (a *app) Close() {
	if a.memory != nil {
		_ = a.memory.Close()
	}
	if a.warehouse != nil {
		_ = a.warehouse.Close()
	}
}

// buildApp wires the subsystems. withModel controls whether the LLM
// client is required; index and stats run without one.
func buildApp(withModel bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}

	a.warehouse, err = warehouse.Open(cfg.Warehouse.Path, cfg.GetQueryTimeout(), logger)
	if err != nil {
		return nil, err
	}

	engine, err := embedding.NewEngine(embedding.Config{
		Provider:       cfg.Embedding.Provider,
		OllamaEndpoint: cfg.Embedding.OllamaEndpoint,
		OllamaModel:    cfg.Embedding.OllamaModel,
		GenAIAPIKey:    cfg.Embedding.GenAIAPIKey,
		GenAIModel:     cfg.Embedding.GenAIModel,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	a.memory, err = memory.Open(cfg.Memory.Path, engine, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.notes = notes.NewFile(cfg.Session.NotesPath)

	if !withModel {
		return a, nil
	}

	client, err := llm.NewClient(llm.Config{
		Provider:  cfg.LLM.Provider,
		APIKey:    cfg.LLM.APIKey,
		Model:     cfg.LLM.Model,
		BaseURL:   cfg.LLM.BaseURL,
		Timeout:   cfg.GetLLMTimeout(),
		MaxTokens: cfg.LLM.MaxTokens,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	registry, err := tools.NewRegistry()
	if err != nil {
		a.Close()
		return nil, err
	}

	executor := sandbox.New(a.warehouse, cfg.GetSandboxTimeout(), cfg.Sandbox.ArtifactDir, logger)
	dispatcher := tools.NewDispatcher(registry, tools.Deps{
		Warehouse: a.warehouse,
		Sandbox:   executor,
		Memory:    a.memory,
		Notes:     a.notes,
		Log:       logger,
	})

	retriever := retrieval.New(a.memory, retrieval.Config{
		SchemaK:          cfg.Retrieval.SchemaK,
		QueryK:           cfg.Retrieval.QueryK,
		ObservationK:     cfg.Retrieval.ObservationK,
		MaxChars:         cfg.Retrieval.MaxChars,
		SchemaChars:      cfg.Retrieval.SchemaChars,
		QueryChars:       cfg.Retrieval.QueryChars,
		ObservationChars: cfg.Retrieval.ObservationChars,
	}, logger)

	a.loop = session.New(client, dispatcher, retriever,
		session.Config{MaxToolRounds: cfg.Session.MaxToolRounds}, logger)
	return a, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := buildApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	question := strings.Join(args, " ")
	logger.Info("processing question", zap.String("question", question))

	r := render.New(os.Stdout, showTrace)
	outcome, err := a.loop.Process(ctx, question)
	if err != nil {
		r.Error(err)
		return err
	}
	r.Outcome(outcome)
	return nil
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := buildApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.memory.ReindexSchema(ctx, a.warehouse)
	if err != nil {
		return fmt.Errorf("reindex failed: %w", err)
	}
	fmt.Printf("Indexed %d schema documents.\n", n)
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	a, err := buildApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	stats := a.memory.Stats()
	for _, col := range memory.Collections() {
		fmt.Printf("%-14s %d\n", col, stats[col])
	}
	return nil
}

func runNotes(cmd *cobra.Command, args []string) error {
	a, err := buildApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	content, err := a.notes.Read()
	if err != nil {
		return err
	}
	if content == "" {
		fmt.Println("(no notes yet)")
		return nil
	}
	fmt.Println(content)
	return nil
}
