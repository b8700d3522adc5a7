package annotation

import (
	"fmt"
	"strings"
)

const (
	tagDomain   = "[domain]"
	tagSummary  = "[summary]"
	tagTaskType = "[task type]"

	paragraphSeparator = "\n\n"
	linesPerBlock      = 3
)

// Encode renders one answer as the three tagged lines used in demonstrations, each newline-terminated.
func Encode(a Answer) string {
	var b strings.Builder
	b.WriteString(tagDomain)
	b.WriteString(a.Domain)
	b.WriteByte('\n')
	b.WriteString(tagSummary)
	b.WriteString(a.Summary)
	b.WriteByte('\n')
	b.WriteString(tagTaskType)
	b.WriteString(a.TaskType)
	b.WriteByte('\n')
	return b.String()
}

// Decode parses a model response into its answer blocks, in response order.
//
// The response is a sequence of blank-line separated paragraphs that alternate between an echoed
// header ("** Output i **") and an answer block. Header paragraphs are discarded. Every answer block
// must be exactly three lines tagged [domain], [summary] and [task type], in that order.
// Any deviation yields a *GrammarError and no answers.
func Decode(response string) ([]Answer, error) {
	text := strings.ReplaceAll(response, "\r\n", "\n")
	text = strings.TrimRight(text, "\n")

	paragraphs := strings.Split(text, paragraphSeparator)
	for len(paragraphs) > 1 && strings.TrimSpace(paragraphs[len(paragraphs)-1]) == "" {
		paragraphs = paragraphs[:len(paragraphs)-1]
	}
	if len(paragraphs) < 2 {
		return nil, &GrammarError{
			Block:  -1,
			Line:   -1,
			Reason: fmt.Sprintf("want alternating header/answer paragraphs, got %d paragraph(s)", len(paragraphs)),
		}
	}

	answers := make([]Answer, 0, len(paragraphs)/2)
	for i := 1; i < len(paragraphs); i += 2 {
		a, err := decodeBlock(len(answers), paragraphs[i])
		if err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, nil
}

func decodeBlock(block int, paragraph string) (Answer, error) {
	lines := strings.Split(paragraph, "\n")
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) != linesPerBlock {
		return Answer{}, &GrammarError{
			Block:  block,
			Line:   -1,
			Reason: fmt.Sprintf("want %d lines, got %d", linesPerBlock, len(lines)),
		}
	}

	values := make([]string, linesPerBlock)
	for i, tag := range []string{tagDomain, tagSummary, tagTaskType} {
		if !strings.HasPrefix(lines[i], tag) {
			return Answer{}, &GrammarError{
				Block:  block,
				Line:   i,
				Reason: fmt.Sprintf("want prefix %q", tag),
			}
		}
		values[i] = lines[i][len(tag):]
	}
	return Answer{Domain: values[0], Summary: values[1], TaskType: values[2]}, nil
}
