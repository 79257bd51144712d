// Package sanitize scrubs raw model output before it reaches a user.
// Local chat templates leak reasoning spans, channel tokens and
// meta-commentary into the visible text; the cleaner strips all of it
// through ordered pattern tables and guarantees a non-empty reply.
package sanitize

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/smartcathome/whisker/pkg/models"
)

// ── Pattern Tables ───────────────────────────────────────────

// blockPatterns run first, over the whole text. Order matters: paired
// reasoning spans go before the stray-tag sweep that mops up unmatched
// open tags.
var blockPatterns = []*regexp.Regexp{
	// Reasoning spans, paired then stray tags
	regexp.MustCompile(`(?is)<think>.*?</think>`),
	regexp.MustCompile(`(?is)<thinking>.*?</thinking>`),
	regexp.MustCompile(`(?is)<reasoning>.*?</reasoning>`),
	regexp.MustCompile(`(?is)<internal>.*?</internal>`),
	regexp.MustCompile(`(?is)<scratchpad>.*?</scratchpad>`),
	// An unterminated open tag means everything after it is reasoning
	regexp.MustCompile(`(?is)<(?:think|thinking|reasoning|internal|scratchpad)>.*`),
	regexp.MustCompile(`(?i)</(?:think|thinking|reasoning|internal|scratchpad)>`),

	// Chat-template control tokens
	regexp.MustCompile(`(?is)<\|channel\|>.*?<\|message\|>`),
	regexp.MustCompile(`(?i)<\|(?:start|end)\|>`),
	regexp.MustCompile(`(?is)<\|im_start\|>.*?<\|im_end\|>`),
	regexp.MustCompile(`(?is)<\|system\|>.*?<\|end\|>`),

	// Tool-call artifacts
	regexp.MustCompile(`(?is)<\|call\|>(?:commentary|analysis|plan|thought|thinking).*`),
	regexp.MustCompile(`(?i)<\|message\|>`),
	regexp.MustCompile(`(?is)<tool_call>.*`),
	regexp.MustCompile(`(?is)\{[^{}]*"tool_call"[^{}]*\}`),
	regexp.MustCompile(`(?is)commentary to=functions\..*`),

	// Timing annotations and reasoning traces
	regexp.MustCompile(`(?i)\(推理耗時約[\s\d.]*秒\)`),
	regexp.MustCompile(`(?i)\(thinking time ≈[\s\d.]*s\)`),
	regexp.MustCompile(`(?i)\(reasoning took [\s\d.]*s\)`),
	regexp.MustCompile(`(?is)🧠 模型推理軌跡.*`),
	regexp.MustCompile(`^\{\s*\}`),
}

// paragraphPatterns remove meta-reasoning sentences from continuous text
// before line splitting.
var paragraphPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(?:we need to|we should|i need to|i should)[^.]*(?:analyze|call|invoke|use)[^.]*(?:image|function|tool)[^.]*\.`),
	regexp.MustCompile(`(?i)according to (?:the )?(?:instruction|system prompt)[^.]*\.`),
	regexp.MustCompile(`(?i)based on (?:the )?(?:instruction|system prompt)[^.]*\.`),
	regexp.MustCompile(`(?i)(?:i|we) (?:should|need to|might|can) (?:call|invoke|use) (?:the )?(?:function|tool)[^.]*\.`),
	regexp.MustCompile(`(?i)the (?:user|instruction) (?:asks|wants|expects|requires)[^.]*\.`),
	regexp.MustCompile(`(?i)(?:^|\.\s*)(?:so|therefore|thus),?\s*(?:i|we) (?:should|need to|will)[^.]*\.`),
	regexp.MustCompile(`(?i)(?:^|\.\s*)(?:let me|i'll|i will) (?:check|verify|analyze)[^.]*\.`),
	regexp.MustCompile(`根據[^。.]*(?:指令|指示|系統提示)[^。.]*[。.]`),
	regexp.MustCompile(`(?:我們|我)[^。.]*(?:需要|應該)[^。.]*(?:調用|使用)[^。.]*[。.]`),
}

// linePrefixStrips remove leading meta-commentary from a line, keeping the
// remainder. The whole-line variants below drop the line entirely.
var linePrefixStrips = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^the user\s*(?:just\s*)?(?:is\s*)?(?:asking|says|said|wants to know|wants)\s*[:：]?\s*`),
	regexp.MustCompile(`(?i)^user\s*(?:just\s*)?(?:repeatedly\s*)?(?:says|said|asks|asked)\s*[:：]?\s*`),
	regexp.MustCompile(`(?i)^they\s*(?:ask|asked)\s*[:：]?\s*`),
}

// lineDropPatterns discard an entire line when matched.
var lineDropPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^the instructions?\s*(?:state|say|indicate|tell me|require)`),
	regexp.MustCompile(`(?i)^my instructions?\s*(?:state|say|indicate|tell me|require)`),
	regexp.MustCompile(`(?i)^according\s+to\s+(?:the\s+)?instructions?`),
	regexp.MustCompile(`(?i)^based\s+on\s+(?:the\s+)?(?:system\s+)?(?:prompt|instructions?)`),
	regexp.MustCompile(`(?i)^(?:the\s+)?system\s+prompt\s+(?:states|says|indicates)`),
	regexp.MustCompile(`(?i)^you\s+(?:are|were)\s+(?:told|instructed|programmed)`),
	regexp.MustCompile(`(?i)^use\s+smart\s+cat\s+home`),
	regexp.MustCompile(`(?i)^possibly\s+use\s+(?:the\s+)?functions?`),
	regexp.MustCompile(`(?i)^(?:i\s+)?(?:should\s+)?(?:call|invoke|use)\s+(?:the\s+)?analyzeimage`),
	regexp.MustCompile(`(?i)^(?:i\s+)?need\s+to\s+(?:call|use|invoke)\s+(?:a\s+)?(?:tool|function)`),
	regexp.MustCompile(`(?i)^just\s+answer`),
	regexp.MustCompile(`(?i)^make\s+sure`),
	regexp.MustCompile(`(?i)^as\s+(?:chatgpt|an ai|a language model|assistant)`),
	regexp.MustCompile(`(?i)^maybe\s+we\s+(?:should|could|can)`),
	regexp.MustCompile(`(?i)^now\s+we\s+(?:need|should|must)`),
	regexp.MustCompile(`(?i)^we (?:need to|should|must|can|could)\b`),
	regexp.MustCompile(`(?i)^i (?:should|need to|must|will|can)\b`),
	regexp.MustCompile(`(?i)^let['’]s\b`),
	regexp.MustCompile(`(?i)^(?:ok(?:ay)?|sure|alright)[, ]`),
	regexp.MustCompile(`(?i)^(?:let me|i['’]ll|i will|i am going to)\b`),
	regexp.MustCompile(`(?i)^.{0,6}\bresponse structure\b`),
	regexp.MustCompile(`(?i)^wait[, ]`),
	regexp.MustCompile(`(?i)^no function call`),
	regexp.MustCompile(`(?i)^\{.*"(?:name|tool_call|function)".*\}`),
	regexp.MustCompile(`(?i)^(?:user|assistant|system|developer)\s*[:：]`),
	regexp.MustCompile(`(?i)^(?:internal|scratchpad|thinking|reasoning)[:：]`),
	regexp.MustCompile(`^根据指令`),
	regexp.MustCompile(`^根據[^，。]*(?:指令|指示|系統提示)`),
	regexp.MustCompile(`^依照[^，。]*(?:指令|指示|規則)`),
	regexp.MustCompile(`^系統提示`),
	regexp.MustCompile(`^任務[:：]`),
	regexp.MustCompile(`^(?:使用者|用戶)[^，。]*(?:詢問|要求|說|問)`),
	regexp.MustCompile(`^(?:我們|我)[^，。]*(?:需要|應該|必須)[^，。]*(?:回應|回答)`),
	regexp.MustCompile(`^(?:讓我|我來)[^，。]*(?:調用|使用)[^，。]*(?:工具|函數)`),
}

var (
	multiSpaceRe      = regexp.MustCompile(`\s{2,}`)
	assistantPrefixRe = regexp.MustCompile(`(?i)^assistant`)
	punctPrefixRe     = regexp.MustCompile(`^[:：\-\s]+`)
	quoteEdgeRe       = regexp.MustCompile(`^["']+|["']+$`)
	asciiPrefixRe     = regexp.MustCompile(`^[\s.,!?;:'"A-Za-z0-9-]+$`)
)

// ── Placeholders ─────────────────────────────────────────────

func placeholderEmpty(lang models.Language) string {
	if lang == models.LangEN {
		return "I did not catch that. Could you share a bit more detail so I can help?"
	}
	return "我暫時沒有抓到重點，可以再多補充一些細節嗎？"
}

func placeholderReady(lang models.Language) string {
	if lang == models.LangEN {
		return "I am here and ready, let me know a little more so I can help right away."
	}
	return "我在這裡，隨時可以提供協助，歡迎再告訴我你想關心的內容。"
}

func placeholderNoAdvice(lang models.Language) string {
	if lang == models.LangEN {
		return "No meaningful response was provided. Please share a bit more detail so I can help."
	}
	return "目前沒有可用的建議，可以再多描述一點狀況嗎？"
}

// ── Cleaner ──────────────────────────────────────────────────

// Clean strips reasoning spans, control tokens and meta-commentary from a
/// raw model response. The result is never empty: when scrubbing removes
// everything, a search-results payload in the original text is formatted
// instead, and failing that a language-appropriate placeholder is returned.
func Clean(text string, lang models.Language) string {
	original := strings.TrimSpace(text)
	if original == "" {
		return placeholderEmpty(lang)
	}

	cleaned := text
	for _, re := range blockPatterns {
		cleaned = re.ReplaceAllString(cleaned, "")
	}
	cleaned = strings.TrimSpace(cleaned)

	// Some templates emit the whole transcript; keep only what follows the
	// final assistant marker.
	if idx := strings.Index(strings.ToLower(cleaned), "<|start|>assistant"); idx >= 0 {
		cleaned = cleaned[idx+len("<|start|>assistant"):]
	}
	if idx := strings.LastIndex(strings.ToLower(cleaned), "assistant"); idx >= 0 {
		tail := strings.TrimSpace(cleaned[idx+len("assistant"):])
		if tail != "" {
			cleaned = tail
		} else {
			cleaned = strings.TrimSpace(cleaned[:idx])
		}
	}

	cleaned = strings.TrimSpace(multiSpaceRe.ReplaceAllString(cleaned, " "))

	if cleaned == "" {
		if formatted := formatSearchResults(original, lang); formatted != "" {
			cleaned = formatted
		} else {
			return placeholderReady(lang)
		}
	}

	for _, re := range paragraphPatterns {
		cleaned = re.ReplaceAllString(cleaned, "")
	}
	cleaned = strings.TrimSpace(multiSpaceRe.ReplaceAllString(cleaned, " "))
	if len(cleaned) < 5 {
		return placeholderReady(lang)
	}

	var lines []string
	for _, line := range strings.Split(cleaned, "\n") {
		line = cleanLine(strings.TrimSpace(line))
		if line == "" || dropLine(line, lang) {
			continue
		}
		lines = append(lines, line)
	}

	if len(lines) == 0 {
		// Everything got scrubbed but the original had substance; better to
		// return it than to claim the model said nothing.
		if original != "" {
			return original
		}
		return placeholderNoAdvice(lang)
	}

	return strings.Join(lines, "\n")
}

func cleanLine(line string) string {
	for _, re := range linePrefixStrips {
		if re.MatchString(line) {
			line = strings.TrimSpace(re.ReplaceAllString(line, ""))
		}
	}

	if assistantPrefixRe.MatchString(line) {
		line = strings.TrimSpace(assistantPrefixRe.ReplaceAllString(line, ""))
		line = strings.TrimSpace(punctPrefixRe.ReplaceAllString(line, ""))
	} else if idx := strings.Index(strings.ToLower(line), "assistant"); idx >= 0 {
		// A mid-line marker counts only when everything before it is plain
		// ASCII filler, so sentences that merely mention the word survive.
		if asciiPrefixRe.MatchString(line[:idx]) {
			line = strings.TrimSpace(line[idx+len("assistant"):])
			line = strings.TrimSpace(punctPrefixRe.ReplaceAllString(line, ""))
		}
	}

	return strings.TrimSpace(quoteEdgeRe.ReplaceAllString(line, ""))
}

func dropLine(line string, lang models.Language) bool {
	for _, re := range lineDropPatterns {
		if re.MatchString(line) {
			return true
		}
	}
	if lang == models.LangZH {
		// Keep lines with Chinese or Latin letters so English tips survive.
		return models.DetectLanguage(line) != models.LangZH && !strings.ContainsAny(line, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")
	}
	return false
}

// ── Search Result Fallback ───────────────────────────────────

type searchPayload struct {
	Results []struct {
		Title   string `json:"title"`
		Summary string `json:"summary"`
	} `json:"results"`
}

// formatSearchResults turns a raw JSON search payload into a readable list.
// Returns "" when the text is not such a payload.
func formatSearchResults(raw string, lang models.Language) string {
	var payload searchPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil || len(payload.Results) == 0 {
		return ""
	}

	var lines []string
	for i, item := range payload.Results {
		title := strings.TrimSpace(item.Title)
		summary := strings.TrimSpace(item.Summary)
		if title == "" && summary == "" {
			continue
		}
		label := fmt.Sprintf("結果 %d", i+1)
		if lang == models.LangEN {
			label = fmt.Sprintf("Result %d", i+1)
		}
		sep := ""
		if title != "" && summary != "" {
			sep = " — "
		}
		lines = append(lines, strings.TrimSpace(label+": "+title+sep+summary))
	}
	if len(lines) == 0 {
		return ""
	}

	header := "搜尋結果："
	if lang == models.LangEN {
		header = "Search findings:"
	}
	return header + "\n" + strings.Join(lines, "\n")
}

// ── Persona Signature ────────────────────────────────────────

var (
	zhPersonaRe = regexp.MustCompile(`(?:^|\n)\s*我(?:是|乃)\s*Smart Cat Home\s*的(?:貼心夥伴)?\s*(?:Standard|Pro|Ultra)(?:\s*(?:模型|顧問))?\s*(?:名為)?['「“]?(?:Meme|PhiLia093|Elysia)['」”]?(?:，|,)?[。.！!]?`)
	enPersonaRe = regexp.MustCompile(`(?i)(?:^|\n)\s*(?:I'm|I am)\s*(?:Smart Cat Home'?s\s*(?:caring companion|Ultra advisor|AI partner)\s*)?['“”]?(?:Meme|PhiLia093|Elysia)['“”]?(?:,?\s*Smart Cat Home'?s\s*(?:caring companion|Ultra advisor|AI partner))?(?:\s*\((?:Standard|Pro|Ultra)\s*(?:model|advisor)\))?[^\n]*`)
)

// ApplyPersonaSignature strips leaked persona self-introductions from a
// reply. When stripping empties the text a placeholder keeps the reply
// usable.
func ApplyPersonaSignature(text string, lang models.Language) string {
	cleaned := strings.TrimSpace(text)
	cleaned = zhPersonaRe.ReplaceAllString(cleaned, "\n")
	cleaned = enPersonaRe.ReplaceAllString(cleaned, "\n")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned != "" {
		return cleaned
	}
	if lang == models.LangEN {
		return "I am still ready to help. Share a bit more detail so I can respond usefully."
	}
	return "我在這裡等著協助，請再提供更多細節，好讓我給出實用建議。"
}
