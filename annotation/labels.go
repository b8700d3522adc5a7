package annotation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"github.com/samber/lo"
	"github.com/theimaginaryfoundation/tag-o-bot/annotation/fileutils"
)

// LabelTracker counts task-type labels over the stream and decides when a label earns a
// demonstration. A label is promoted at most once.
type LabelTracker struct {
	counts   map[string]int
	promoted map[string]struct{}
}

func NewLabelTracker() *LabelTracker {
	return &LabelTracker{
		counts:   make(map[string]int),
		promoted: make(map[string]struct{}),
	}
}

// Observe records one sighting of label at stream position (records processed so far) and reports
// whether the label should be promoted now. The promotion check uses the count before this sighting:
// count >= position*threshold and not yet promoted. The error label is ignored entirely.
func (t *LabelTracker) Observe(label string, position int, threshold float64) bool {
	if label == ErrorLabel {
		return false
	}

	promote := false
	if _, done := t.promoted[label]; !done && meetsBar(t.counts[label], position, threshold) {
		t.promoted[label] = struct{}{}
		promote = true
	}
	t.counts[label]++
	return promote
}

// meetsBar reports count >= position*threshold. The product is compared with a small tolerance so
// exact products such as 100*0.07 are not lost to float rounding.
func meetsBar(count, position int, threshold float64) bool {
	return float64(count) >= float64(position)*threshold-barEpsilon
}

const barEpsilon = 1e-9

func (t *LabelTracker) Count(label string) int {
	return t.counts[label]
}

func (t *LabelTracker) Promoted(label string) bool {
	_, ok := t.promoted[label]
	return ok
}

// LabelStat is one row of a tracker snapshot.
type LabelStat struct {
	Label    string `json:"label"`
	Count    int    `json:"count"`
	Promoted bool   `json:"promoted,omitempty"`
}

// Stats lists every tracked label, highest count first, then by label.
func (t *LabelTracker) Stats() []LabelStat {
	labels := lo.Union(lo.Keys(t.counts), lo.Keys(t.promoted))
	stats := lo.Map(labels, func(label string, _ int) LabelStat {
		return LabelStat{Label: label, Count: t.counts[label], Promoted: t.Promoted(label)}
	})
	sort.SliceStable(stats, func(i, j int) bool {
		if stats[i].Count != stats[j].Count {
			return stats[i].Count > stats[j].Count
		}
		return stats[i].Label < stats[j].Label
	})
	return stats
}

// LabelState is the on-disk form of the tracker plus the stream position it was taken at.
type LabelState struct {
	Version  int         `json:"version"`
	Position int         `json:"position"`
	Labels   []LabelStat `json:"labels"`
}

// Snapshot captures the tracker at position.
func (t *LabelTracker) Snapshot(position int) LabelState {
	return LabelState{Version: 1, Position: position, Labels: t.Stats()}
}

// Restore rebuilds a tracker from a snapshot.
func (s LabelState) Restore() *LabelTracker {
	t := NewLabelTracker()
	for _, st := range s.Labels {
		if st.Label == ErrorLabel {
			continue
		}
		if st.Count > 0 {
			t.counts[st.Label] = st.Count
		}
		if st.Promoted {
			t.promoted[st.Label] = struct{}{}
		}
	}
	return t
}

// LoadLabelState reads a snapshot file. If the file doesn't exist, it returns an empty state.
func LoadLabelState(path string) (LabelState, error) {
	if path == "" {
		return LabelState{}, errors.New("LoadLabelState: path is empty")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return LabelState{Version: 1, Labels: []LabelStat{}}, nil
		}
		return LabelState{}, fmt.Errorf("LoadLabelState: read file: %w", err)
	}
	var s LabelState
	if err := json.Unmarshal(b, &s); err != nil {
		return LabelState{}, fmt.Errorf("LoadLabelState: unmarshal: %w", err)
	}
	if s.Version == 0 {
		s.Version = 1
	}
	if s.Labels == nil {
		s.Labels = []LabelStat{}
	}
	if s.Position < 0 {
		return LabelState{}, fmt.Errorf("LoadLabelState: negative position %d", s.Position)
	}
	return s, nil
}

// SaveLabelState writes the snapshot atomically.
func SaveLabelState(path string, s LabelState) error {
	if path == "" {
		return errors.New("SaveLabelState: path is empty")
	}
	if err := fileutils.WriteJSONFileAtomic(path, s, true); err != nil {
		return fmt.Errorf("SaveLabelState: %w", err)
	}
	return nil
}
