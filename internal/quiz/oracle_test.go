// File: internal/quiz/oracle_test.go
package quiz

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nv4re/tabpilot/api/schemas"
)

const assessmentMap = `=== VISUAL PAGE MAP ===
Viewport 1280x720, scroll (0,0), 2 elements
[H1] @(10,10 400x40) sel="h1" "Course Player"
[*BUTTON] @(1100,600 90x32) sel="#next" "Next"

=== IFRAME CONTENT (frameId=2) ===
Viewport 900x600, scroll (0,0), 6 elements
[P] @(20,10 600x20) sel="p.counter" "3 of 10 Items"
[P] @(20,40 600x40) sel="p.stem" "Which planet is closest to the sun?"
[*INPUT[radio]] @(20,90 20x20) sel="#opt-a" "Mercury" [unchecked]
[*INPUT[radio]] @(20,120 20x20) sel="#opt-b" "Venus" [unchecked]
[*INPUT[radio]] @(20,150 20x20) sel="#opt-c" "Mars" [unchecked]
[*BUTTON] @(20,200 80x30) sel="button.lrn_assess" "Check"`

func TestDetect(t *testing.T) {
	t.Run("assessment page scores over the threshold", func(t *testing.T) {
		page := schemas.PageContext{
			URL:       "https://lms.example.com/assessment/42",
			Title:     "Unit Quiz",
			VisualMap: assessmentMap,
		}
		assert.GreaterOrEqual(t, Score(page), 4)
		assert.True(t, Detect(page))
	})

	t.Run("plain article stays below the threshold", func(t *testing.T) {
		page := schemas.PageContext{
			URL:   "https://news.example.com/story",
			Title: "Daily News",
			VisualMap: `=== VISUAL PAGE MAP ===
Viewport 1280x720, scroll (0,0), 1 elements
[P] @(10,10 600x400) sel="article p" "Markets rose on Tuesday."`,
		}
		assert.False(t, Detect(page))
	})

	t.Run("URL tokens alone can tip the score", func(t *testing.T) {
		page := schemas.PageContext{
			URL:       "https://example.com/exam/final-test",
			Title:     "Final Exam",
			VisualMap: "=== VISUAL PAGE MAP ===",
		}
		// "test" and "exam" both hit in URL and title text.
		assert.True(t, Detect(page))
	})
}

func TestStableQuestionKey(t *testing.T) {
	t.Run("progress counter wins", func(t *testing.T) {
		assert.Equal(t, "3 of 10 Items", StableQuestionKey(assessmentMap))
	})

	t.Run("key survives tile permutation", func(t *testing.T) {
		permuted := `=== VISUAL PAGE MAP ===
[H1] @(10,10 400x40) sel="h1" "Course Player"

=== IFRAME CONTENT (frameId=2) ===
[P] @(20,10 600x20) sel="p.counter" "3 of 10 Items"
[*INPUT[radio]] @(20,90 20x20) sel="#opt-c" "Mars" [unchecked]
[*INPUT[radio]] @(20,120 20x20) sel="#opt-a" "Mercury" [unchecked]`
		assert.Equal(t, StableQuestionKey(assessmentMap), StableQuestionKey(permuted))
	})

	t.Run("falls back to the section prefix", func(t *testing.T) {
		noCounter := `=== IFRAME CONTENT (frameId=2) ===
[P] @(20,40 600x40) sel="p.stem" "Drag each label to its slot"`
		key := StableQuestionKey(noCounter)
		require.NotEmpty(t, key)
		assert.LessOrEqual(t, len(key), 80)
	})

	t.Run("empty without an iframe section", func(t *testing.T) {
		assert.Empty(t, StableQuestionKey("=== VISUAL PAGE MAP ===\n[P] sel=\"p\" \"text\""))
	})
}

func TestExtractQuestionText(t *testing.T) {
	text := ExtractQuestionText(assessmentMap)
	assert.Contains(t, text, "Which planet is closest to the sun?")
	assert.Contains(t, text, "Mercury")
	assert.Contains(t, text, "Venus")

	// Chrome and the progress counter never reach the search analyst.
	assert.NotContains(t, text, "Next")
	assert.NotContains(t, text, "3 of 10 Items")

	t.Run("deduplicates repeated labels", func(t *testing.T) {
		repeated := `=== IFRAME CONTENT (frameId=2) ===
[P] @(20,10 100x20) sel="p.a" "Mercury"
[P] @(20,40 100x20) sel="p.b" "Mercury"`
		assert.Equal(t, "Mercury", ExtractQuestionText(repeated))
	})
}

func TestNeedsVision(t *testing.T) {
	t.Run("large unlabeled image needs vision", func(t *testing.T) {
		page := schemas.PageContext{VisualMap: `=== IFRAME CONTENT (frameId=2) ===
[IMG] @(20,40 400x300) sel="img.diagram"`}
		assert.True(t, NeedsVision(page))
	})

	t.Run("captioned image does not", func(t *testing.T) {
		page := schemas.PageContext{VisualMap: `=== IFRAME CONTENT (frameId=2) ===
[IMG] @(20,40 400x300) sel="img.diagram" "A labeled diagram of the solar system"`}
		assert.False(t, NeedsVision(page))
	})

	t.Run("icon-sized images are ignored", func(t *testing.T) {
		page := schemas.PageContext{VisualMap: `=== IFRAME CONTENT (frameId=2) ===
[IMG] @(20,40 24x24) sel="img.icon"`}
		assert.False(t, NeedsVision(page))
	})

	t.Run("no iframe section means no vision", func(t *testing.T) {
		page := schemas.PageContext{VisualMap: `=== VISUAL PAGE MAP ===
[IMG] @(20,40 400x300) sel="img.hero"`}
		assert.False(t, NeedsVision(page))
	})
}
