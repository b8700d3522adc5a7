package main

import (
	"errors"
	"flag"
	"os"
	"path/filepath"
	"time"
)

type Config struct {
	DataPath       string
	ArrayField     string
	DemosPath      string
	DemoSeedPath   string
	OutPath        string
	LabelStatePath string
	Resume         bool

	Model           string
	Temperature     float64
	MaxOutputTokens int
	Frequency       float64
	Step            int
	Pace            time.Duration

	RetryAttempts int
	RetryDelay    time.Duration

	Start      int
	MaxRecords int
	Seed       uint64

	InstructionFile string

	APIKey          string
	BaseURL         string
	AzureEndpoint   string
	AzureAPIVersion string

	LogLevel    string
	PrintSchema bool
}

func (c Config) Validate() error {
	if c.DataPath == "" {
		return errors.New("missing -data")
	}
	if c.DemosPath == "" {
		return errors.New("missing -demos")
	}
	if c.OutPath == "" {
		return errors.New("missing -out")
	}
	if c.Model == "" {
		return errors.New("missing -model")
	}
	if c.Step <= 0 {
		return errors.New("step must be > 0")
	}
	if c.Frequency < 0 || c.Frequency > 1 {
		return errors.New("frequency must be within [0, 1]")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return errors.New("temperature must be within [0, 2]")
	}
	if c.MaxOutputTokens <= 0 {
		return errors.New("max-output-tokens must be > 0")
	}
	if c.RetryAttempts <= 0 {
		return errors.New("retry-attempts must be > 0")
	}
	if c.Pace < 0 || c.RetryDelay < 0 {
		return errors.New("pace and retry-delay must be >= 0")
	}
	if c.Start < 0 || c.MaxRecords < 0 {
		return errors.New("start and max-records must be >= 0")
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		DataPath:        "sharegpt_data.json",
		DemosPath:       "demonstrations.jsonl",
		OutPath:         "annotations.jsonl",
		Model:           "gpt-4",
		Temperature:     0.4,
		MaxOutputTokens: 800,
		Frequency:       0.05,
		Step:            3,
		Pace:            35 * time.Second,
		RetryAttempts:   5,
		RetryDelay:      5 * time.Second,
		AzureAPIVersion: "2023-03-15-preview",
		LogLevel:        "info",
	}
}

func parseFlags(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := defaultConfig()
	fs.SetOutput(os.Stderr)

	fs.StringVar(&cfg.DataPath, "data", cfg.DataPath, "Conversation log: JSON array, object wrapping an array, or .jsonl")
	fs.StringVar(&cfg.ArrayField, "array-field", "", "Field holding the records when -data is a JSON object (default: first array field)")
	fs.StringVar(&cfg.DemosPath, "demos", cfg.DemosPath, "Demonstration store (JSONL); promoted examples are appended here")
	fs.StringVar(&cfg.DemoSeedPath, "demo-seed", "", "Optional JSONL copied to -demos when the store does not exist yet")
	fs.StringVar(&cfg.OutPath, "out", cfg.OutPath, "Annotation output (JSONL, appended)")
	fs.StringVar(&cfg.LabelStatePath, "label-state", "", "Label frequency snapshot (default: <out>.labels.json)")
	fs.BoolVar(&cfg.Resume, "resume", false, "Restore label counts, promotions and position from -label-state")
	fs.StringVar(&cfg.Model, "model", cfg.Model, "Chat model (or Azure deployment) name")
	fs.Float64Var(&cfg.Temperature, "temperature", cfg.Temperature, "Sampling temperature")
	fs.IntVar(&cfg.MaxOutputTokens, "max-output-tokens", cfg.MaxOutputTokens, "Max tokens per response")
	fs.Float64Var(&cfg.Frequency, "frequency", cfg.Frequency, "Promotion threshold as a fraction of processed records")
	fs.IntVar(&cfg.Step, "step", cfg.Step, "Records per request (also demonstrations per prompt)")
	fs.DurationVar(&cfg.Pace, "pace", cfg.Pace, "Pause after each committed window")
	fs.IntVar(&cfg.RetryAttempts, "retry-attempts", cfg.RetryAttempts, "Attempts per request before the window is skipped")
	fs.DurationVar(&cfg.RetryDelay, "retry-delay", cfg.RetryDelay, "Wait between attempts")
	fs.IntVar(&cfg.Start, "start", 0, "Skip the first N records")
	fs.IntVar(&cfg.MaxRecords, "max-records", 0, "Process at most N records after -start (0 = all)")
	fs.Uint64Var(&cfg.Seed, "seed", 0, "Demonstration sampling seed (0 = random)")
	fs.StringVar(&cfg.InstructionFile, "instruction-file", "", "Optional file replacing the built-in instruction")
	fs.StringVar(&cfg.APIKey, "api-key", "", "API key (overrides OPENAI_API_KEY env var)")
	fs.StringVar(&cfg.BaseURL, "base-url", "", "OpenAI-compatible base URL")
	fs.StringVar(&cfg.AzureEndpoint, "azure-endpoint", "", "Azure OpenAI endpoint (takes precedence over -base-url)")
	fs.StringVar(&cfg.AzureAPIVersion, "azure-api-version", cfg.AzureAPIVersion, "Azure OpenAI API version")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	fs.BoolVar(&cfg.PrintSchema, "print-schema", false, "Print JSON Schemas of the output files and exit")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg.DataPath = filepath.Clean(cfg.DataPath)
	cfg.DemosPath = filepath.Clean(cfg.DemosPath)
	cfg.OutPath = filepath.Clean(cfg.OutPath)
	if cfg.LabelStatePath == "" {
		cfg.LabelStatePath = cfg.OutPath + ".labels.json"
	}
	cfg.LabelStatePath = filepath.Clean(cfg.LabelStatePath)
	if cfg.DemoSeedPath != "" {
		cfg.DemoSeedPath = filepath.Clean(cfg.DemoSeedPath)
	}
	if cfg.InstructionFile != "" {
		cfg.InstructionFile = filepath.Clean(cfg.InstructionFile)
	}
	return cfg, nil
}
