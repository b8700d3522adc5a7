package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/theimaginaryfoundation/tag-o-bot/annotation"
	"github.com/theimaginaryfoundation/tag-o-bot/annotation/fileutils"
	"github.com/theimaginaryfoundation/tag-o-bot/annotation/provider"
)

func main() {
	_ = godotenv.Load()

	cfg, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	if cfg.PrintSchema {
		if err := printSchemas(os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(1)
		}
		return
	}

	logger, err := newLogger(os.Stderr, cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	logger = logger.With("run_id", uuid.NewString())

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" && cfg.BaseURL == "" {
		fmt.Fprintln(os.Stderr, "missing OPENAI_API_KEY (or pass -api-key)")
		os.Exit(2)
	}

	instruction := annotation.DefaultInstruction
	if cfg.InstructionFile != "" {
		instruction, err = loadInstructionFile(cfg.InstructionFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(2)
		}
	}

	client := provider.NewClient(provider.ClientConfig{
		APIKey:          apiKey,
		BaseURL:         cfg.BaseURL,
		AzureEndpoint:   cfg.AzureEndpoint,
		AzureAPIVersion: cfg.AzureAPIVersion,
	})
	sender, err := provider.NewChatSender(&client, provider.RetryPolicy{
		MaxAttempts: cfg.RetryAttempts,
		Delay:       cfg.RetryDelay,
	}, logger.With("component", "sender"))
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stats, err := run(ctx, cfg, sender, instruction, logger)
	if err != nil {
		logger.Error("annotation run failed", "error", err, "committed", stats.Committed, "position", stats.Position)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stdout, "windows=%d committed=%d skipped=%d records_written=%d promoted=%d position=%d out=%s demos=%s label_state=%s\n",
		stats.Windows, stats.Committed, stats.Skipped(), stats.RecordsWritten, stats.Promoted, stats.Position,
		cfg.OutPath, cfg.DemosPath, cfg.LabelStatePath)
}

func newLogger(w io.Writer, level string) (*log.Logger, error) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid -log-level %q: %w", level, err)
	}
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		Level:           lvl,
		Prefix:          "task-annotator",
	}), nil
}

// run prepares the demonstration store, corpus and label state, then drives the annotator.
func run(ctx context.Context, cfg Config, sender annotation.Sender, instruction string, logger *log.Logger) (annotation.RunStats, error) {
	if cfg.DemoSeedPath != "" {
		copied, err := fileutils.CopyFileIfExists(cfg.DemoSeedPath, cfg.DemosPath, false)
		if err != nil {
			return annotation.RunStats{}, fmt.Errorf("seed demonstrations: %w", err)
		}
		if copied {
			logger.Info("demonstration store seeded", "from", cfg.DemoSeedPath, "to", cfg.DemosPath)
		}
	}

	var rng *rand.Rand
	if cfg.Seed != 0 {
		rng = rand.New(rand.NewPCG(cfg.Seed, cfg.Seed))
	}
	pool, err := annotation.NewDemoPool(cfg.DemosPath, rng)
	if err != nil {
		return annotation.RunStats{}, err
	}
	n, err := pool.Count()
	if err != nil {
		return annotation.RunStats{}, err
	}
	if n < cfg.Step {
		return annotation.RunStats{}, fmt.Errorf("demonstration store %s holds %d examples, need at least %d: %w",
			cfg.DemosPath, n, cfg.Step, annotation.ErrInsufficientDemonstrations)
	}

	corpus, err := annotation.LoadCorpus(ctx, cfg.DataPath, cfg.ArrayField)
	if err != nil {
		return annotation.RunStats{}, err
	}
	logger.Info("corpus loaded", "path", cfg.DataPath, "records", corpus.Len(), "demonstrations", n)

	var tracker *annotation.LabelTracker
	position := 0
	if cfg.Resume {
		st, err := annotation.LoadLabelState(cfg.LabelStatePath)
		if err != nil {
			return annotation.RunStats{}, err
		}
		tracker = st.Restore()
		position = st.Position
		logger.Info("label state restored", "path", cfg.LabelStatePath, "labels", len(st.Labels), "position", position)
	}

	a, err := annotation.NewAnnotator(sender, pool, tracker, corpus, cfg.OutPath, annotation.Options{
		Step:      cfg.Step,
		Threshold: cfg.Frequency,
		Pace:      cfg.Pace,
		Send: annotation.SendOptions{
			Model:           cfg.Model,
			Temperature:     cfg.Temperature,
			MaxOutputTokens: cfg.MaxOutputTokens,
		},
		Instruction:    instruction,
		Start:          cfg.Start,
		MaxRecords:     cfg.MaxRecords,
		Position:       position,
		LabelStatePath: cfg.LabelStatePath,
	}, logger)
	if err != nil {
		return annotation.RunStats{}, err
	}
	return a.Run(ctx)
}

func printSchemas(w io.Writer) error {
	schemas, err := annotation.RecordSchemas()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(schemas)
}
