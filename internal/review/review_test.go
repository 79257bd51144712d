package review

import (
	"strings"
	"testing"

	"github.com/smartcathome/whisker/pkg/models"
)

func TestParseStrictJSON(t *testing.T) {
	raw := `{"approved": false, "feedback": "missing portion sizes", "concerns": ["no gram amounts"]}`
	result := Parse(raw, models.LangEN)
	if result.Approved {
		t.Error("Approved = true, want false")
	}
	if result.Feedback != "missing portion sizes" {
		t.Errorf("Feedback = %q", result.Feedback)
	}
	if len(result.Concerns) != 1 || result.Concerns[0] != "no gram amounts" {
		t.Errorf("Concerns = %v", result.Concerns)
	}
}

func TestParseFencedBlock(t *testing.T) {
	raw := "Here is my review:\n```json\n{\"approved\": true, \"feedback\": \"solid advice\"}\n```\nThanks!"
	result := Parse(raw, models.LangEN)
	if !result.Approved {
		t.Error("Approved = false, want true")
	}
	if result.Feedback != "solid advice" {
		t.Errorf("Feedback = %q", result.Feedback)
	}
}

func TestParseBraceSpanWithProse(t *testing.T) {
	raw := `The draft looks fine overall. {"approved": true, "feedback": "ship it"} Hope that helps.`
	result := Parse(raw, models.LangEN)
	if !result.Approved || result.Feedback != "ship it" {
		t.Errorf("Parse() = %+v", result)
	}
}

func TestParseRepairsJsonish(t *testing.T) {
	raw := "```\n{approved: FALSE, feedback: \"too terse\", // short\n concerns: [\"needs detail\",],}\n```"
	result := Parse(raw, models.LangEN)
	if result.Approved {
		t.Error("Approved = true, want false after repair")
	}
	if result.Feedback != "too terse" {
		t.Errorf("Feedback = %q", result.Feedback)
	}
}

func TestParseSmartQuotes(t *testing.T) {
	raw := `{“approved”: true, “feedback”: “good coverage”}`
	result := Parse(raw, models.LangEN)
	if !result.Approved || result.Feedback != "good coverage" {
		t.Errorf("Parse() = %+v", result)
	}
}

func TestParseProseWithConcerns(t *testing.T) {
	raw := "Strengths: clear tone\nConcerns: missing hydration advice"
	result := Parse(raw, models.LangEN)
	if result.Approved {
		t.Error("Approved = true, want false when prose lists concerns")
	}
	if len(result.Concerns) != 1 || result.Concerns[0] != "missing hydration advice" {
		t.Errorf("Concerns = %v, want exactly [missing hydration advice]", result.Concerns)
	}
	if len(result.Strengths) != 1 || result.Strengths[0] != "clear tone" {
		t.Errorf("Strengths = %v, want exactly [clear tone]", result.Strengths)
	}
}

func TestParseProseChineseSectionBoundary(t *testing.T) {
	raw := "優點:\n- 語氣親切\n疑慮:\n- 缺少飲水建議"
	result := Parse(raw, models.LangZH)
	if len(result.Strengths) != 1 || result.Strengths[0] != "語氣親切" {
		t.Errorf("Strengths = %v, want exactly [語氣親切]", result.Strengths)
	}
	if len(result.Concerns) != 1 || result.Concerns[0] != "缺少飲水建議" {
		t.Errorf("Concerns = %v, want exactly [缺少飲水建議]", result.Concerns)
	}
}

func TestParseProseBulletedConcerns(t *testing.T) {
	raw := "Issues:\n- portions too large\n- no vet disclaimer\n\nOtherwise fine."
	result := Parse(raw, models.LangEN)
	if result.Approved {
		t.Error("Approved = true, want false")
	}
	if len(result.Concerns) < 2 {
		t.Errorf("Concerns = %v, want both bullets", result.Concerns)
	}
	if result.Concerns[0] != "portions too large" || result.Concerns[1] != "no vet disclaimer" {
		t.Errorf("Concerns = %v", result.Concerns)
	}
}

func TestParseProseExplicitRejection(t *testing.T) {
	result := Parse("Rejected. The tone is wrong for a worried owner.", models.LangEN)
	if result.Approved {
		t.Error("Approved = true, want false for explicit rejection")
	}
}

func TestParseChineseNegative(t *testing.T) {
	result := Parse("整體內容不錯，但需修正餵食量的描述。", models.LangZH)
	if result.Approved {
		t.Error("Approved = true, want false for 需修正")
	}
}

func TestParseDefaultsApproved(t *testing.T) {
	result := Parse("Looks good to me, nice work on the hydration section.", models.LangEN)
	if !result.Approved {
		t.Error("Approved = false, want true by default")
	}
	if result.Feedback == "" {
		t.Error("Feedback empty, want first paragraph")
	}
}

func TestParseEmptyInput(t *testing.T) {
	result := Parse("", models.LangZH)
	if !result.Approved {
		t.Error("Approved = false, want true for empty review")
	}
	if result.Feedback == "" {
		t.Error("Feedback empty, want placeholder")
	}
}

func TestFeedbackTruncation(t *testing.T) {
	long := strings.Repeat("a", 500)
	got := truncateFeedback(long)
	if len(got) > 400+len("…") {
		t.Errorf("len = %d, want <= %d", len(got), 400+len("…"))
	}
	if !strings.HasSuffix(got, "…") {
		t.Errorf("got %q, want ellipsis suffix", got[len(got)-10:])
	}
}

func TestParseByteOrderMarkPrefix(t *testing.T) {
	raw := "\ufeff{approved: true, feedback: \"fine\"}"
	result := Parse(raw, models.LangEN)
	if !result.Approved || result.Feedback != "fine" {
		t.Errorf("Parse() = %+v", result)
	}
}

func TestCleanJsonishUnquotedKeys(t *testing.T) {
	got := cleanJsonish(`{approved: true, feedback: "ok"}`)
	want := `{"approved": true, "feedback": "ok"}`
	if got != want {
		t.Errorf("cleanJsonish() = %q, want %q", got, want)
	}
}
