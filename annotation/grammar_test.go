package annotation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const threeItemResponse = "** Output 0 **\n\n" +
	"[domain]math\n[summary]solve eq\n[task type]algebra, equation\n\n" +
	"** Output 1 **\n\n" +
	"[domain]code\n[summary]write fn\n[task type]programming, python\n\n" +
	"** Output 2 **\n\n" +
	"[domain]chat\n[summary]casual talk\n[task type]conversation"

func TestEncode(t *testing.T) {
	got := Encode(Answer{Domain: "math", Summary: "solve eq", TaskType: "algebra, equation"})
	assert.Equal(t, "[domain]math\n[summary]solve eq\n[task type]algebra, equation\n", got)
}

func TestDecode_ThreeItems(t *testing.T) {
	answers, err := Decode(threeItemResponse)
	require.NoError(t, err)
	require.Len(t, answers, 3)

	assert.Equal(t, []Answer{
		{Domain: "math", Summary: "solve eq", TaskType: "algebra, equation"},
		{Domain: "code", Summary: "write fn", TaskType: "programming, python"},
		{Domain: "chat", Summary: "casual talk", TaskType: "conversation"},
	}, answers)
}

func TestDecode_RoundTrip(t *testing.T) {
	cases := []Answer{
		{Domain: "math", Summary: "solve eq", TaskType: "algebra, equation"},
		{Domain: "", Summary: "", TaskType: ""},
		{Domain: " spaced ", Summary: "ünïcödé [summary] inside", TaskType: "a, b, c"},
	}
	for _, want := range cases {
		answers, err := Decode("** Output 0 **\n\n" + Encode(want))
		require.NoError(t, err)
		require.Len(t, answers, 1)
		assert.Equal(t, want, answers[0])
		assert.Equal(t, Encode(want), Encode(answers[0]))
	}
}

func TestDecode_NormalizesCRLFAndTrailingBlankParagraphs(t *testing.T) {
	resp := strings.ReplaceAll(threeItemResponse, "\n", "\r\n") + "\r\n\r\n  \r\n\r\n\t"
	answers, err := Decode(resp)
	require.NoError(t, err)
	require.Len(t, answers, 3)
	assert.Equal(t, "conversation", answers[2].TaskType)
}

func TestDecode_TrailingSpacesKeptInEveryBlock(t *testing.T) {
	resp := "** Output 0 **\n\n[domain]a\n[summary]s\n[task type]t \n\n" +
		"** Output 1 **\n\n[domain]b\n[summary]s\n[task type]t "
	answers, err := Decode(resp)
	require.NoError(t, err)
	require.Len(t, answers, 2)
	assert.Equal(t, "t ", answers[0].TaskType)
	assert.Equal(t, answers[0].TaskType, answers[1].TaskType, "position in the batch must not change a value")

	for _, a := range answers {
		again, err := Decode("** Output 0 **\n\n" + Encode(a))
		require.NoError(t, err)
		assert.Equal(t, []Answer{a}, again)
	}
}

func TestDecode_Violations(t *testing.T) {
	tests := []struct {
		name  string
		input string
		block int
		line  int
	}{
		{
			name:  "single paragraph",
			input: "[domain]math\n[summary]x\n[task type]y",
			block: -1,
			line:  -1,
		},
		{
			name:  "empty response",
			input: "",
			block: -1,
			line:  -1,
		},
		{
			name: "missing summary tag in second block",
			input: "** Output 0 **\n\n[domain]a\n[summary]b\n[task type]c\n\n" +
				"** Output 1 **\n\n[domain]a\nsummary b\n[task type]c",
			block: 1,
			line:  1,
		},
		{
			name:  "too few lines",
			input: "** Output 0 **\n\n[domain]a\n[summary]b",
			block: 0,
			line:  -1,
		},
		{
			name:  "too many lines",
			input: "** Output 0 **\n\n[domain]a\n[summary]b\n[task type]c\nextra",
			block: 0,
			line:  -1,
		},
		{
			name:  "tags out of order",
			input: "** Output 0 **\n\n[summary]b\n[domain]a\n[task type]c",
			block: 0,
			line:  0,
		},
		{
			name:  "case sensitive tag",
			input: "** Output 0 **\n\n[domain]a\n[summary]b\n[Task Type]c",
			block: 0,
			line:  2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			answers, err := Decode(tt.input)
			require.Error(t, err)
			assert.Nil(t, answers)
			require.ErrorIs(t, err, ErrGrammarViolation)

			var gerr *GrammarError
			require.ErrorAs(t, err, &gerr)
			assert.Equal(t, tt.block, gerr.Block)
			assert.Equal(t, tt.line, gerr.Line)
		})
	}
}

func TestDecode_ShortResponseIsNotTruncatedSilently(t *testing.T) {
	// Two well-formed answers decode as two; the caller's width check catches the mismatch.
	resp := "** Output 0 **\n\n[domain]a\n[summary]b\n[task type]c\n\n** Output 1 **\n\n[domain]d\n[summary]e\n[task type]f"
	answers, err := Decode(resp)
	require.NoError(t, err)
	assert.Len(t, answers, 2)
}
