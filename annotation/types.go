package annotation

import (
	"strings"

	"github.com/samber/lo"
)

// RoleHuman marks utterances authored by the user. Every other role is treated as non-human.
const RoleHuman = "human"

// Utterance is one turn of a conversation record.
type Utterance struct {
	From  string `json:"from"`
	Value string `json:"value"`
}

// ConversationRecord is one entry of the input log.
type ConversationRecord struct {
	ID            string      `json:"id"`
	Conversations []Utterance `json:"conversations"`
}

// HumanUtterances returns the human-authored turns in order.
func (r ConversationRecord) HumanUtterances() []Utterance {
	return lo.Filter(r.Conversations, func(u Utterance, _ int) bool {
		return u.From == RoleHuman
	})
}

// HumanQuery concatenates every human-authored utterance with no separator.
// It is the query text stored with a demonstration.
func (r ConversationRecord) HumanQuery() string {
	var b strings.Builder
	for _, u := range r.HumanUtterances() {
		b.WriteString(u.Value)
	}
	return b.String()
}

// AnnotationResult is one row of the output file.
type AnnotationResult struct {
	ID       string `json:"id"`
	Domain   string `json:"domain"`
	Summary  string `json:"summary"`
	TaskType string `json:"task_type"`
}

// Labels splits the task type into its individual coarse-to-fine labels.
func (r AnnotationResult) Labels() []string {
	return strings.Split(r.TaskType, LabelSeparator)
}

// DemonstrationExample is one line of the demonstration store.
type DemonstrationExample struct {
	UserQuery string `json:"user query"`

	// Label is the full task-type string of the record that triggered the promotion.
	Label   string `json:"label"`
	Domain  string `json:"domain"`
	Summary string `json:"summary"`
}

// Answer is one decoded answer block of a model response.
type Answer struct {
	Domain   string
	Summary  string
	TaskType string
}

// LabelSeparator joins individual labels inside a task-type string.
const LabelSeparator = ", "

// ErrorLabel is the sentinel label that is never tracked or promoted.
const ErrorLabel = "error"
