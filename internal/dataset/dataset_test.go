package dataset

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeInput(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func TestLoad_ReadsExamplesInFileOrder(t *testing.T) {
	path := writeInput(t,
		`{"id":"q1","question":"first?","answer":"yes"}`,
		`{"question":"second?"}`,
		``,
		`{"id":"q3","question":"third?"}`,
	)

	examples, err := Load(path)
	require.NoError(t, err)
	require.Len(t, examples, 3)

	assert.Equal(t, "q1", examples[0].ID)
	assert.Equal(t, "first?", examples[0].Question)
	assert.Equal(t, "yes", examples[0].Answer)

	// Records without an id get their line number.
	assert.Equal(t, "2", examples[1].ID)
	assert.Equal(t, "q3", examples[2].ID)
}

func TestLoad_RejectsMissingQuestion(t *testing.T) {
	path := writeInput(t, `{"id":"q1","answer":"yes"}`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing question")
}

func TestLoad_RejectsMalformedLine(t *testing.T) {
	path := writeInput(t, `{"question":"ok?"}`, `not-json`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestCap_FirstN(t *testing.T) {
	examples := []Example{{ID: "a", Question: "a?"}, {ID: "b", Question: "b?"}, {ID: "c", Question: "c?"}}

	capped := Cap(examples, 2)
	require.Len(t, capped, 2)
	assert.Equal(t, "a", capped[0].ID)
	assert.Equal(t, "b", capped[1].ID)

	// Zero means no cap.
	assert.Len(t, Cap(examples, 0), 3)
	assert.Len(t, Cap(examples, 10), 3)
}

func TestPromptBuilder_FewshotBlockThenQuestion(t *testing.T) {
	p := NewPromptBuilder(2)
	got := p.Render(Example{Question: "Is water wet?"})

	assert.True(t, strings.HasSuffix(got, "Question: Is water wet?\nAnswer:"), "prompt must end with the open answer slot: %q", got)
	assert.Equal(t, 3, strings.Count(got, "Question: "), "expected 2 demonstrations plus the test question")

	// Demonstrations are answered, the test question is not.
	assert.Equal(t, 2, strings.Count(got, "\nAnswer: "))
}

func TestPromptBuilder_ZeroShot(t *testing.T) {
	p := NewPromptBuilder(0)
	got := p.Render(Example{Question: "Is water wet?"})
	assert.Equal(t, "Question: Is water wet?\nAnswer:", got)
}

func TestPromptBuilder_Deterministic(t *testing.T) {
	a := NewPromptBuilder(4).Render(Example{Question: "q?"})
	b := NewPromptBuilder(4).Render(Example{Question: "q?"})
	assert.Equal(t, a, b)
}

func TestPromptBuilder_ClampsFewshot(t *testing.T) {
	p := NewPromptBuilder(100)
	got := p.Render(Example{Question: "q?"})
	assert.Equal(t, MaxFewshot()+1, strings.Count(got, "Question: "))
}
