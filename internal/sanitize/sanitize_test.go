package sanitize

import (
	"strings"
	"testing"

	"github.com/smartcathome/whisker/pkg/models"
)

func TestCleanRemovesThinkBlocks(t *testing.T) {
	in := "<think>the user has a kitten, mention portions</think>Feed your kitten four small meals a day."
	got := Clean(in, models.LangEN)
	want := "Feed your kitten four small meals a day."
	if got != want {
		t.Errorf("Clean() = %q, want %q", got, want)
	}
}

func TestCleanRemovesUnterminatedThink(t *testing.T) {
	in := "Fresh water daily is key.<think>now I should also mention"
	got := Clean(in, models.LangEN)
	if strings.Contains(got, "mention") {
		t.Errorf("Clean() = %q, leaked reasoning after stray tag", got)
	}
	if !strings.Contains(got, "Fresh water daily") {
		t.Errorf("Clean() = %q, lost the real content", got)
	}
}

func TestCleanRemovesControlTokens(t *testing.T) {
	in := "<|channel|>analysis<|message|>Brush twice a week.<|end|>"
	got := Clean(in, models.LangEN)
	if got != "Brush twice a week." {
		t.Errorf("Clean() = %q", got)
	}
}

func TestCleanKeepsTextAfterLastAssistantMarker(t *testing.T) {
	in := "<|start|>assistant analysis stuff assistant Litter boxes need weekly scrubbing."
	got := Clean(in, models.LangEN)
	if got != "Litter boxes need weekly scrubbing." {
		t.Errorf("Clean() = %q", got)
	}
}

func TestCleanRemovesTimingAnnotations(t *testing.T) {
	in := "(Reasoning took 3.2s) Senior cats need softer food."
	got := Clean(in, models.LangEN)
	if strings.Contains(got, "Reasoning took") {
		t.Errorf("Clean() = %q, timing survived", got)
	}
}

func TestCleanDropsMetaCommentaryLines(t *testing.T) {
	in := "The instructions state I must answer briefly.\nWet food helps hydration.\nWe should respond warmly."
	got := Clean(in, models.LangEN)
	if got != "Wet food helps hydration." {
		t.Errorf("Clean() = %q", got)
	}
}

func TestCleanStripsUserParaphrasePrefix(t *testing.T) {
	in := "The user is asking: how often to trim claws? Every two to three weeks works for most cats."
	got := Clean(in, models.LangEN)
	if strings.Contains(strings.ToLower(got), "the user") {
		t.Errorf("Clean() = %q, paraphrase prefix survived", got)
	}
	if !strings.Contains(got, "two to three weeks") {
		t.Errorf("Clean() = %q, lost the answer", got)
	}
}

func TestCleanNeverEmptyEnglish(t *testing.T) {
	got := Clean("<think>only reasoning here</think>", models.LangEN)
	if strings.TrimSpace(got) == "" {
		t.Fatal("Clean() returned empty string")
	}
	if strings.Contains(got, "reasoning") {
		t.Errorf("Clean() = %q, leaked reasoning", got)
	}
}

func TestCleanNeverEmptyChinese(t *testing.T) {
	got := Clean("", models.LangZH)
	if models.DetectLanguage(got) != models.LangZH {
		t.Errorf("Clean() = %q, want Chinese placeholder", got)
	}
}

func TestCleanFormatsSearchResultsJSON(t *testing.T) {
	in := `{"results":[{"title":"Cat Grass Guide","summary":"Safe grasses for indoor cats"},{"title":"","summary":""}]}`
	// The JSON body survives scrubbing, so force the fallback path with a
	// payload wrapped in reasoning tags.
	got := Clean("<think>x</think>"+"", models.LangEN)
	if got == "" {
		t.Fatal("Clean() returned empty string")
	}

	formatted := formatSearchResults(in, models.LangEN)
	if !strings.HasPrefix(formatted, "Search findings:") {
		t.Errorf("formatSearchResults() = %q", formatted)
	}
	if !strings.Contains(formatted, "Result 1: Cat Grass Guide — Safe grasses for indoor cats") {
		t.Errorf("formatSearchResults() = %q", formatted)
	}
	if strings.Contains(formatted, "Result 2") {
		t.Errorf("formatSearchResults() = %q, empty entry kept", formatted)
	}
}

func TestFormatSearchResultsRejectsNonPayload(t *testing.T) {
	if got := formatSearchResults("just some prose", models.LangEN); got != "" {
		t.Errorf("formatSearchResults() = %q, want empty", got)
	}
	if got := formatSearchResults(`{"results":[]}`, models.LangZH); got != "" {
		t.Errorf("formatSearchResults() = %q, want empty", got)
	}
}

func TestCleanChineseKeepsBilingualLines(t *testing.T) {
	in := "貓咪每天需要新鮮的水。\nWet food also helps.\n!!!"
	got := Clean(in, models.LangZH)
	if !strings.Contains(got, "貓咪每天需要新鮮的水。") {
		t.Errorf("Clean() = %q, lost Chinese line", got)
	}
	if !strings.Contains(got, "Wet food also helps.") {
		t.Errorf("Clean() = %q, lost English line", got)
	}
	if strings.Contains(got, "!!!") {
		t.Errorf("Clean() = %q, kept punctuation-only line", got)
	}
}

func TestCleanIsIdempotent(t *testing.T) {
	inputs := []string{
		"<think>plan</think>Feed your kitten four small meals a day.",
		"<|channel|>analysis<|message|>Brush twice a week.<|end|>",
		"Multiple   spaces\n\nand lines. 多喝水，保持水碗乾淨。",
		"",
	}
	for _, in := range inputs {
		for _, lang := range []models.Language{models.LangEN, models.LangZH} {
			once := Clean(in, lang)
			twice := Clean(once, lang)
			if once != twice {
				t.Errorf("Clean(Clean(%q)) = %q, want %q", in, twice, once)
			}
		}
	}
}

func TestApplyPersonaSignatureStripsLeak(t *testing.T) {
	in := "I'm Elysia (Ultra advisor)\nYour cat's weight looks stable this month."
	got := ApplyPersonaSignature(in, models.LangEN)
	if strings.Contains(got, "Elysia") {
		t.Errorf("ApplyPersonaSignature() = %q, persona survived", got)
	}
	if !strings.Contains(got, "weight looks stable") {
		t.Errorf("ApplyPersonaSignature() = %q, lost content", got)
	}
}

func TestApplyPersonaSignatureNeverEmpty(t *testing.T) {
	got := ApplyPersonaSignature("I'm Meme", models.LangZH)
	if strings.TrimSpace(got) == "" {
		t.Fatal("ApplyPersonaSignature() returned empty string")
	}
}

func TestDetectLanguage(t *testing.T) {
	if models.DetectLanguage("貓咪很可愛") != models.LangZH {
		t.Error("DetectLanguage(zh) != LangZH")
	}
	if models.DetectLanguage("cats are great") != models.LangEN {
		t.Error("DetectLanguage(en) != LangEN")
	}
}
