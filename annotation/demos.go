package annotation

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/theimaginaryfoundation/tag-o-bot/annotation/fileutils"
)

const userQueryPrefix = "[user query] "

// DemoPool is the append-only demonstration store. It re-reads the backing file on every Sample so
// examples appended earlier in the same run are visible immediately.
type DemoPool struct {
	path string
	rng  *rand.Rand
}

// NewDemoPool returns a pool backed by the JSONL file at path. rng drives sampling; nil uses a
// randomly seeded source.
func NewDemoPool(path string, rng *rand.Rand) (*DemoPool, error) {
	if path == "" {
		return nil, errors.New("NewDemoPool: path is empty")
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &DemoPool{path: path, rng: rng}, nil
}

// Path returns the backing file path.
func (p *DemoPool) Path() string { return p.path }

// Load reads every example in the store. A missing store is empty.
func (p *DemoPool) Load() ([]DemonstrationExample, error) {
	demos, err := fileutils.ReadJSONLines[DemonstrationExample](p.path)
	if err != nil {
		return nil, fmt.Errorf("DemoPool.Load: %w", err)
	}
	return demos, nil
}

// Count returns the number of examples currently in the store.
func (p *DemoPool) Count() (int, error) {
	demos, err := p.Load()
	if err != nil {
		return 0, err
	}
	return len(demos), nil
}

// Sample draws k distinct examples uniformly at random and renders them as a queries block followed
// by an outputs block with matching "** Input i **" / "** Output i **" headers.
func (p *DemoPool) Sample(k int) (string, error) {
	demos, err := p.Load()
	if err != nil {
		return "", err
	}
	if k < 0 || len(demos) < k {
		return "", fmt.Errorf("DemoPool.Sample: want %d, have %d: %w", k, len(demos), ErrInsufficientDemonstrations)
	}

	picked := p.rng.Perm(len(demos))[:k]

	var queries, outputs strings.Builder
	for i, idx := range picked {
		fmt.Fprintf(&queries, "\n\n** Input %d **\n\n", i)
		queries.WriteString(userQueryPrefix)
		queries.WriteString(demos[idx].UserQuery)
	}
	for i, idx := range picked {
		fmt.Fprintf(&outputs, "\n\n** Output %d **\n\n", i)
		outputs.WriteString(strings.TrimSuffix(Encode(demos[idx].Answer()), "\n"))
	}
	return queries.String() + outputs.String(), nil
}

// Append adds one example as a new line. The store is opened in append mode and closed again.
func (p *DemoPool) Append(d DemonstrationExample) error {
	if err := fileutils.AppendJSONLines(p.path, []DemonstrationExample{d}); err != nil {
		return fmt.Errorf("DemoPool.Append: %w", err)
	}
	return nil
}

// Answer returns the example's gold labels in encoder form.
func (d DemonstrationExample) Answer() Answer {
	return Answer{Domain: d.Domain, Summary: d.Summary, TaskType: d.Label}
}
