package prompt

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"post-curator/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

const base = "You judge posts about the project."

func example(typ models.GoldExampleType, n int, at time.Time) models.FewShotExample {
	return models.FewShotExample{
		Text:      fmt.Sprintf("%s post %d", typ, n),
		Response:  fmt.Sprintf("quote %s %d", typ, n),
		Type:      typ,
		UpdatedAt: at,
	}
}

func TestCompose_NoExamplesReturnsBase(t *testing.T) {
	assert.Equal(t, base, Compose(base, nil))
	assert.Equal(t, base, Compose(base, []models.FewShotExample{}))
}

func TestCompose_CapsEachTypeNewestFirst(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var examples []models.FewShotExample
	for i := 0; i < 6; i++ {
		examples = append(examples,
			example(models.GoldGood, i, start.Add(time.Duration(i)*time.Hour)),
			example(models.GoldBad, i, start.Add(time.Duration(i)*time.Hour)))
	}
	input := make([]models.FewShotExample, len(examples))
	copy(input, examples)

	out := Compose(base, examples)

	assert.True(t, strings.HasPrefix(out, base))
	assert.Equal(t, 5, strings.Count(out, "good post"))
	assert.Equal(t, 5, strings.Count(out, "bad post"))
	assert.NotContains(t, out, "good post 0", "oldest good example is dropped")
	assert.NotContains(t, out, "bad post 0", "oldest bad example is dropped")
	assert.Less(t, strings.Index(out, "good post 5"), strings.Index(out, "good post 4"))
	assert.Less(t, strings.Index(out, "bad post 5"), strings.Index(out, "bad post 1"))
	assert.Equal(t, input, examples, "input must not be reordered")
}

func TestCompose_BadExamplesShowCorrection(t *testing.T) {
	now := time.Now()
	correction := "Rejected. This is price speculation."
	withCorrection := example(models.GoldBad, 1, now)
	withCorrection.Correction = &correction
	withoutCorrection := example(models.GoldBad, 2, now.Add(-time.Minute))
	good := example(models.GoldGood, 3, now)
	good.Correction = &correction

	out := Compose(base, []models.FewShotExample{withCorrection, withoutCorrection, good})

	assert.Contains(t, out, "Decision: "+correction)
	assert.NotContains(t, out, "quote bad 1")
	assert.Contains(t, out, "Decision: quote bad 2")
	assert.Contains(t, out, "Decision: quote good 3")
	assert.Equal(t, 1, strings.Count(out, correction), "good examples always show the judge quote")
}

func TestCompose_TruncatesLongText(t *testing.T) {
	long := models.FewShotExample{
		Text:      strings.Repeat("é", 250),
		Response:  "Approved.\nPercentile: 90",
		Type:      models.GoldGood,
		UpdatedAt: time.Now(),
	}
	out := Compose(base, []models.FewShotExample{long})

	assert.Contains(t, out, strings.Repeat("é", 200)+"...")
	assert.NotContains(t, out, strings.Repeat("é", 201))
}

func TestCompose_Deterministic(t *testing.T) {
	at := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	examples := []models.FewShotExample{
		example(models.GoldGood, 1, at),
		example(models.GoldGood, 2, at),
		example(models.GoldBad, 3, at),
	}
	assert.Equal(t, Compose(base, examples), Compose(base, examples))
}

func TestComposer_CustomLimits(t *testing.T) {
	now := time.Now()
	examples := []models.FewShotExample{
		example(models.GoldGood, 1, now),
		example(models.GoldGood, 2, now.Add(-time.Hour)),
	}
	out := Composer{MaxPerType: 1, TextLimit: 4}.Compose(base, examples)
	assert.Contains(t, out, "\"good...\"")
	assert.NotContains(t, out, "quote good 2")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abc...", Truncate("abcdef", 3))
	assert.Equal(t, "abc", Truncate("abc", 3))
}

func TestFileInstruction_LoadAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persona.md")
	require.NoError(t, os.WriteFile(path, []byte("  first version \n"), 0o644))

	// The watcher goroutine may outlive the test, so it must not log to t.
	inst, err := LoadFileInstruction(path, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "first version", inst.Instruction())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, inst.Watch(ctx))

	require.NoError(t, os.WriteFile(path, []byte("second version"), 0o644))
	assert.Eventually(t, func() bool {
		return inst.Instruction() == "second version"
	}, 5*time.Second, 50*time.Millisecond)
}

func TestLoadFileInstruction_Errors(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadFileInstruction(filepath.Join(dir, "missing.md"), zaptest.NewLogger(t))
	assert.Error(t, err)

	empty := filepath.Join(dir, "empty.md")
	require.NoError(t, os.WriteFile(empty, []byte("   \n"), 0o644))
	_, err = LoadFileInstruction(empty, zaptest.NewLogger(t))
	assert.Error(t, err)
}
