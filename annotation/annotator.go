package annotation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/theimaginaryfoundation/tag-o-bot/annotation/fileutils"
)

// SendOptions are the generation parameters passed with every prompt.
type SendOptions struct {
	Model           string
	Temperature     float64
	MaxOutputTokens int
}

// Sender sends one prompt to the LLM and returns its text. Implementations own their retry policy
// and report an exhausted budget with an error wrapping ErrSenderExhausted.
type Sender interface {
	Send(ctx context.Context, prompt string, opts SendOptions) (string, error)
}

// WindowState is the driver's position in the per-window cycle.
type WindowState int

const (
	StateReady WindowState = iota
	StatePrompted
	StateParsed
	StateCommitted
	StateError
)

func (s WindowState) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StatePrompted:
		return "prompted"
	case StateParsed:
		return "parsed"
	case StateCommitted:
		return "committed"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options configures an Annotator.
type Options struct {
	// Step is the window width and the number of demonstrations sampled per prompt.
	Step int

	// Threshold is the fraction of processed records a label must reach before promotion.
	Threshold float64

	// Pace is the pause after each committed window.
	Pace time.Duration

	Send SendOptions

	// Instruction opens every prompt; empty uses DefaultInstruction.
	Instruction string

	// Start skips the first Start records. MaxRecords bounds how many are scanned after that (0 = all).
	Start      int
	MaxRecords int

	// Position is the stream position restored from an earlier run.
	Position int

	// LabelStatePath, when set, receives a tracker snapshot after every commit.
	LabelStatePath string
}

// RunStats summarizes a run.
type RunStats struct {
	Windows           int
	Committed         int
	SenderExhausted   int
	GrammarViolations int
	LengthMismatches  int
	RecordsWritten    int
	Promoted          int
	Position          int
}

func (s RunStats) Skipped() int {
	return s.SenderExhausted + s.GrammarViolations + s.LengthMismatches
}

// Annotator drives the window loop: prompt, send, decode, commit, pace.
type Annotator struct {
	sender     Sender
	pool       *DemoPool
	tracker    *LabelTracker
	corpus     *Corpus
	outputPath string
	opts       Options
	logger     *log.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// NewAnnotator wires the driver. A nil tracker starts empty.
func NewAnnotator(sender Sender, pool *DemoPool, tracker *LabelTracker, corpus *Corpus, outputPath string, opts Options, logger *log.Logger) (*Annotator, error) {
	if sender == nil {
		return nil, errors.New("NewAnnotator: sender is nil")
	}
	if pool == nil {
		return nil, errors.New("NewAnnotator: pool is nil")
	}
	if corpus == nil {
		return nil, errors.New("NewAnnotator: corpus is nil")
	}
	if outputPath == "" {
		return nil, errors.New("NewAnnotator: output path is empty")
	}
	if opts.Step <= 0 {
		return nil, fmt.Errorf("NewAnnotator: step must be > 0, got %d", opts.Step)
	}
	if opts.Start < 0 || opts.MaxRecords < 0 || opts.Position < 0 {
		return nil, errors.New("NewAnnotator: start, max-records and position must be >= 0")
	}
	if opts.Instruction == "" {
		opts.Instruction = DefaultInstruction
	}
	if tracker == nil {
		tracker = NewLabelTracker()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Annotator{
		sender:     sender,
		pool:       pool,
		tracker:    tracker,
		corpus:     corpus,
		outputPath: outputPath,
		opts:       opts,
		logger:     logger,
		sleep:      sleepContext,
	}, nil
}

// Tracker exposes the label tracker, mainly for snapshots.
func (a *Annotator) Tracker() *LabelTracker { return a.tracker }

// Run scans the corpus window by window. Window-level failures are logged, counted and skipped;
// I/O failures and cancellation end the run and are returned with the stats so far.
func (a *Annotator) Run(ctx context.Context) (RunStats, error) {
	stats := RunStats{Position: a.opts.Position}

	start, end := a.bounds()
	a.logger.Info("annotation run starting",
		"records", end-start,
		"start", start,
		"step", a.opts.Step,
		"threshold", a.opts.Threshold,
		"position", stats.Position,
	)

	for from := start; from < end; from += a.opts.Step {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		to := min(from+a.opts.Step, end)
		window := a.corpus.Records[from:to]
		stats.Windows++

		results, promoted, err := a.processWindow(ctx, window, stats.Position)
		if err != nil {
			kind, recoverable := classifyWindowError(err)
			if !recoverable {
				return stats, err
			}
			switch kind {
			case ErrSenderExhausted:
				stats.SenderExhausted++
			case ErrGrammarViolation:
				stats.GrammarViolations++
			case ErrLengthMismatch:
				stats.LengthMismatches++
			}
			a.logger.Warn("window skipped", "state", StateError, "window_start", from, "width", len(window), "error", err)
			continue
		}

		stats.Committed++
		stats.RecordsWritten += len(results)
		stats.Promoted += promoted
		stats.Position += len(results)
		a.logger.Info("window committed",
			"state", StateCommitted,
			"window_start", from,
			"width", len(window),
			"promoted", promoted,
			"position", stats.Position,
		)

		if a.opts.LabelStatePath != "" {
			if err := SaveLabelState(a.opts.LabelStatePath, a.tracker.Snapshot(stats.Position)); err != nil {
				return stats, err
			}
		}

		if to < end && a.opts.Pace > 0 {
			a.logger.Debug("pacing before next request", "wait", a.opts.Pace)
			if err := a.sleep(ctx, a.opts.Pace); err != nil {
				return stats, err
			}
		}
	}

	a.logger.Info("annotation run finished",
		"windows", stats.Windows,
		"committed", stats.Committed,
		"skipped", stats.Skipped(),
		"records_written", stats.RecordsWritten,
		"promoted", stats.Promoted,
	)
	return stats, nil
}

func (a *Annotator) bounds() (int, int) {
	n := a.corpus.Len()
	start := min(a.opts.Start, n)
	end := n
	if a.opts.MaxRecords > 0 {
		end = min(start+a.opts.MaxRecords, n)
	}
	return start, end
}

// processWindow runs one Ready→Prompted→Parsed→Committed cycle. position is the stream position
// before this window. It returns the committed results and the number of promotions.
func (a *Annotator) processWindow(ctx context.Context, window []ConversationRecord, position int) ([]AnnotationResult, int, error) {
	width := len(window)

	demos, err := a.pool.Sample(width)
	if err != nil {
		return nil, 0, err
	}
	prompt := BuildPrompt(a.opts.Instruction, demos, window)

	a.logger.Debug("sending prompt", "state", StatePrompted, "width", width, "prompt_chars", len(prompt))
	text, err := a.sender.Send(ctx, prompt, a.opts.Send)
	if err != nil {
		return nil, 0, err
	}

	answers, err := Decode(text)
	if err != nil {
		a.logger.Debug("undecodable response", "response", fileutils.Truncate(fileutils.OneLine(text), 500))
		return nil, 0, err
	}
	a.logger.Debug("response decoded", "state", StateParsed, "answers", len(answers))

	if len(answers) != width {
		return nil, 0, &LengthError{Want: width, Got: len(answers)}
	}

	results := make([]AnnotationResult, width)
	for i, ans := range answers {
		results[i] = AnnotationResult{
			ID:       window[i].ID,
			Domain:   ans.Domain,
			Summary:  ans.Summary,
			TaskType: ans.TaskType,
		}
	}

	promoted := 0
	for _, res := range results {
		for _, label := range res.Labels() {
			if strings.TrimSpace(label) == "" {
				continue
			}
			if !a.tracker.Observe(label, position, a.opts.Threshold) {
				continue
			}
			demo, err := a.demonstrationFor(res)
			if err != nil {
				return nil, promoted, err
			}
			if err := a.pool.Append(demo); err != nil {
				return nil, promoted, err
			}
			promoted++
			a.logger.Info("label promoted", "label", label, "id", res.ID, "task_type", res.TaskType)
		}
	}

	if err := fileutils.AppendJSONLines(a.outputPath, results); err != nil {
		return nil, promoted, fmt.Errorf("write annotations: %w", err)
	}
	return results, promoted, nil
}

func (a *Annotator) demonstrationFor(res AnnotationResult) (DemonstrationExample, error) {
	rec, ok := a.corpus.Lookup(res.ID)
	if !ok {
		return DemonstrationExample{}, fmt.Errorf("promote: record %q not found in corpus", res.ID)
	}
	return DemonstrationExample{
		UserQuery: rec.HumanQuery(),
		Label:     res.TaskType,
		Domain:    res.Domain,
		Summary:   res.Summary,
	}, nil
}

// classifyWindowError reports which recoverable kind err is, if any.
func classifyWindowError(err error) (error, bool) {
	for _, kind := range []error{ErrSenderExhausted, ErrGrammarViolation, ErrLengthMismatch} {
		if errors.Is(err, kind) {
			return kind, true
		}
	}
	return nil, false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
