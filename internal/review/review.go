// Package review parses the verdict the standard tier writes about a
// draft answer. Reviewer models are asked for JSON but rarely deliver it
// cleanly, so parsing runs an ordered chain of increasingly forgiving
// attempts and finishes with a prose heuristic. Parse never fails; an
// unreadable review defaults to approved.
package review

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/smartcathome/whisker/pkg/models"
)

// Parse turns raw reviewer output into a ReviewResult. Attempts, in
// order: the raw text as JSON, a fenced code block, the outermost brace
// span, each of those after jsonish repair, then prose reconstruction.
func Parse(raw string, lang models.Language) models.ReviewResult {
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, ok := tryParseJSON(trimmed); ok {
			return buildParsedResult(parsed, raw)
		}
	}

	log.Warn().Msg("review response is not valid JSON, deriving structure heuristically")
	return deriveFromText(raw, lang)
}

// ── JSON Attempts ────────────────────────────────────────────

var fencedRe = regexp.MustCompile("(?is)```(?:json)?(.*?)```")

func tryParseJSON(raw string) (map[string]any, bool) {
	attempts := []string{raw}

	if m := fencedRe.FindStringSubmatch(raw); m != nil {
		if candidate := strings.TrimSpace(m[1]); candidate != "" {
			attempts = appendUnique(attempts, candidate)
		}
	}
	if candidate := extractBraceSpan(raw); candidate != "" {
		attempts = appendUnique(attempts, candidate)
	}

	for _, candidate := range attempts {
		if cleaned := cleanJsonish(candidate); cleaned != "" {
			attempts = appendUnique(attempts, cleaned)
		}
	}

	for _, attempt := range attempts {
		var parsed map[string]any
		if err := json.Unmarshal([]byte(attempt), &parsed); err == nil {
			return parsed, true
		}
	}
	return nil, false
}

func appendUnique(list []string, s string) []string {
	for _, existing := range list {
		if existing == s {
			return list
		}
	}
	return append(list, s)
}

// extractBraceSpan returns the text from the first { to the last }.
func extractBraceSpan(raw string) string {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end <= start {
		return ""
	}
	candidate := strings.TrimSpace(raw[start : end+1])
	if len(candidate) <= 2 {
		return ""
	}
	return candidate
}

var (
	lineCommentRe  = regexp.MustCompile(`(?m)//.*$`)
	blockCommentRe = regexp.MustCompile(`(?s)/\*.*?\*/`)
	trailingComma  = regexp.MustCompile(`,\s*([}\]])`)
	unquotedKeyRe  = regexp.MustCompile(`([{,]\s*)([A-Za-z0-9_]+)\s*:`)
	upperLiteralRe = regexp.MustCompile(`\b(TRUE|FALSE|NULL)\b`)
)

// cleanJsonish repairs the usual model-authored JSON defects: BOM, smart
// quotes, comments, trailing commas, unquoted keys and shouted literals.
func cleanJsonish(input string) string {
	text := strings.TrimPrefix(input, "\uFEFF")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.ReplaceAll(text, " ", " ")
	text = strings.NewReplacer("“", `"`, "”", `"`, "‘", "'", "’", "'").Replace(text)
	text = lineCommentRe.ReplaceAllString(text, "")
	text = blockCommentRe.ReplaceAllString(text, "")
	text = strings.TrimSpace(text)

	if !strings.HasPrefix(text, "{") {
		if idx := strings.IndexByte(text, '{'); idx >= 0 {
			text = text[idx:]
		}
	}
	if idx := strings.LastIndexByte(text, '}'); idx > 0 {
		text = text[:idx+1]
	}

	text = trailingComma.ReplaceAllString(text, "$1")
	text = unquotedKeyRe.ReplaceAllString(text, `$1"$2":`)
	text = upperLiteralRe.ReplaceAllStringFunc(text, strings.ToLower)

	return strings.TrimSpace(text)
}

func buildParsedResult(parsed map[string]any, raw string) models.ReviewResult {
	result := models.ReviewResult{
		Raw:       raw,
		Approved:  true,
		Concerns:  toStringList(parsed["concerns"]),
		Strengths: toStringList(parsed["strengths"]),
	}
	if approved, ok := parsed["approved"].(bool); ok && !approved {
		result.Approved = false
	}
	if feedback, ok := parsed["feedback"].(string); ok {
		result.Feedback = strings.TrimSpace(feedback)
	}
	return result
}

func toStringList(value any) []string {
	switch v := value.(type) {
	case []any:
		var out []string
		for _, entry := range v {
			if s, ok := entry.(string); ok {
				if s = strings.TrimSpace(s); s != "" {
					out = append(out, s)
				}
			}
		}
		return out
	case string:
		if s := strings.TrimSpace(v); s != "" {
			return []string{s}
		}
	}
	return nil
}

// ── Prose Reconstruction ─────────────────────────────────────

var (
	sectionBreakRe = regexp.MustCompile(`(?i)^(?:strengths?|positives?|優點|亮點|concerns?|issues?|risks?|warnings?|需改進|待改善|疑慮|風險|需要調整|feedback|建議|summary|總結|notes?|提醒|actions?|行動|下一步)`)
	bulletPrefixRe = regexp.MustCompile(`^[-*•·●・\d①②③④⑤⑥⑦⑧⑨⑩一二三四五六七八九十()（）.、【】\s]+`)

	concernHeaderRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:concerns?|issues?|risks?|warnings?)\s*[:：]`),
		regexp.MustCompile(`(?:需改進|待改善|疑慮|風險|需要調整)\s*[:：]`),
	}
	strengthHeaderRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:strengths?|positives?|highlights?)\s*[:：]`),
		regexp.MustCompile(`(?:優點|亮點|值得保留|好的部分)\s*[:：]`),
	}

	feedbackHeaderRes = []*regexp.Regexp{
		regexp.MustCompile(`(?is)feedback\s*[:：]\s*(.+?)(?:\n\s*(?:strengths?|concerns?|summary|notes?|優點|亮點|疑慮|建議)\b|$)`),
		regexp.MustCompile(`(?s)(?:建議|總結|整體建議|整體觀察)\s*[:：]\s*(.+?)(?:\n\s*(?:優點|亮點|concerns?|issues?|summary|總結)\b|$)`),
	}

	explicitFalseRes = []*regexp.Regexp{
		regexp.MustCompile(`\bapproved\b[^a-z0-9]+(?:false|no)`),
		regexp.MustCompile(`\breject(?:ed)?\b`),
		regexp.MustCompile(`\bneeds?\s+revision\b`),
	}
	explicitTrueRes = []*regexp.Regexp{
		regexp.MustCompile(`\bapproved\b[^a-z0-9]+(?:true|yes)`),
		regexp.MustCompile(`\bpass(?:ed)?\b`),
	}

	negativeZHKeywords = []string{"不通過", "未通過", "需修正", "需要修正", "必須調整", "重大疑慮", "請重新產生"}
)

func deriveFromText(raw string, lang models.Language) models.ReviewResult {
	normalized := strings.ReplaceAll(raw, "\r", "\n")
	concerns := extractSectionItems(normalized, concernHeaderRes)
	strengths := extractSectionItems(normalized, strengthHeaderRes)

	return models.ReviewResult{
		Raw:       raw,
		Approved:  inferApproval(normalized, concerns),
		Feedback:  extractFeedback(normalized, lang),
		Concerns:  concerns,
		Strengths: strengths,
	}
}

func extractSectionItems(text string, headers []*regexp.Regexp) []string {
	for _, header := range headers {
		loc := header.FindStringIndex(text)
		if loc == nil {
			continue
		}

		var items []string
		seen := map[string]bool{}
		blankStreak := 0
		for _, rawLine := range strings.Split(text[loc[1]:], "\n") {
			line := strings.TrimSpace(rawLine)
			if line == "" {
				if len(items) == 0 {
					continue
				}
				blankStreak++
				if blankStreak >= 2 {
					break
				}
				continue
			}
			blankStreak = 0

			// Markdown table rows become plain text; separator rows are noise.
			if strings.HasPrefix(line, "|") {
				if strings.HasPrefix(strings.TrimSpace(strings.TrimPrefix(line, "|")), "-") {
					continue
				}
				line = strings.TrimSpace(strings.ReplaceAll(line, "|", " "))
			}

			item := strings.TrimSpace(bulletPrefixRe.ReplaceAllString(line, ""))
			if item == "" {
				continue
			}
			if sectionBreakRe.MatchString(item) {
				break
			}
			if !seen[item] {
				seen[item] = true
				items = append(items, item)
			}
			if len(items) >= 6 {
				break
			}
		}

		if len(items) > 0 {
			return items
		}
	}
	return nil
}

var fencedBlockRe = regexp.MustCompile("(?s)```.*?```")

func extractFeedback(text string, lang models.Language) string {
	sanitized := strings.TrimSpace(fencedBlockRe.ReplaceAllString(text, ""))

	for _, re := range feedbackHeaderRes {
		if m := re.FindStringSubmatch(sanitized); m != nil {
			if feedback := truncateFeedback(m[1]); feedback != "" {
				return feedback
			}
		}
	}

	for _, block := range regexp.MustCompile(`\n{2,}`).Split(sanitized, -1) {
		if block = strings.TrimSpace(block); block != "" {
			if feedback := truncateFeedback(block); feedback != "" {
				return feedback
			}
		}
	}

	if lang == models.LangEN {
		return "Reviewer provided descriptive feedback but not in JSON format."
	}
	return "審查結果提供了描述性回饋，但未使用 JSON 格式。"
}

var feedbackEdgeRe = regexp.MustCompile(`^[\s:-]+`)

func truncateFeedback(input string) string {
	cleaned := strings.TrimSpace(feedbackEdgeRe.ReplaceAllString(input, ""))
	if len(cleaned) <= 400 {
		return cleaned
	}
	cut := cleaned[:397]
	// Do not split a UTF-8 sequence at the cut point.
	for len(cut) > 0 && cut[len(cut)-1]&0xc0 == 0x80 {
		cut = cut[:len(cut)-1]
	}
	return cut + "…"
}

func inferApproval(text string, concerns []string) bool {
	lower := strings.ToLower(text)
	for _, re := range explicitFalseRes {
		if re.MatchString(lower) {
			return false
		}
	}
	for _, re := range explicitTrueRes {
		if re.MatchString(lower) {
			return true
		}
	}
	for _, keyword := range negativeZHKeywords {
		if strings.Contains(text, keyword) {
			return false
		}
	}
	return len(concerns) == 0
}
