package annotation

import (
	"fmt"
	"strings"
)

// DefaultInstruction opens every prompt.
const DefaultInstruction = "You will be given a user query in user-GPT conversation. Please classify the user queries with respect to task types, as fine-grained as possible following:\n" +
	"(1) Identify specific domain/topic of the user query.\n" +
	"(2) Give a brief summary of the user query.\n" +
	"(3) Give task types for the user query. There could be multiple types, and organize them from coarse to fine."

// AnswerTrigger sits between the demonstrations and the batch queries.
const AnswerTrigger = "\n\n** What are the task type of the following samples? Please strictly follow the style of previous demonstrations. Make sure you respond to every input user query.**"

// BuildPrompt concatenates instruction, rendered demonstrations, the answer trigger and the window's
// queries. Query i is headed "** Input i **" so answers can be aligned by index.
func BuildPrompt(instruction, demos string, window []ConversationRecord) string {
	var b strings.Builder
	b.WriteString(instruction)
	b.WriteString(demos)
	b.WriteString(AnswerTrigger)
	for i, rec := range window {
		fmt.Fprintf(&b, "\n\n** Input %d ** \n\n %s", i, userQueryPrefix)
		for _, u := range rec.HumanUtterances() {
			b.WriteString(u.Value)
			b.WriteByte('\n')
		}
		b.WriteString("\n\n")
	}
	return b.String()
}
