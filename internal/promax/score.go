package promax

import (
	"regexp"
	"strings"
)

// ScoreMeta carries the invocation facts the heuristics need beyond the
// text itself.
type ScoreMeta struct {
	Tokens         int
	ThinkingTokens int
	MaxTokens      int
}

const defaultMaxTokens = 2048

var (
	bulletListRe   = regexp.MustCompile(`(?m)^\s*[-*•]\s`)
	numberedListRe = regexp.MustCompile(`(?m)^\s*\d+\.\s`)
	headerRe       = regexp.MustCompile(`(?m)^#{1,3}\s`)
	citationRe     = regexp.MustCompile(`\[.*\]|\(.*\)|「.*」|『.*』`)
	sentenceEndRe  = regexp.MustCompile(`[。.!?！？]`)
	naturalEndRe   = regexp.MustCompile(`[。.!?！？\n]\s*$`)
)

// Score rates an answer from 0 to 100. The heuristics favour detailed,
// structured, diverse text and penalise repetition and truncation.
func Score(text string, meta ScoreMeta) int {
	score := 50

	words := len(strings.Fields(text))
	switch {
	case words > 50 && words < 500:
		score += 10
	case words >= 500:
		score += 5
	case words < 20:
		score -= 10
	}

	if bulletListRe.MatchString(text) || numberedListRe.MatchString(text) {
		score += 5
	}
	if headerRe.MatchString(text) {
		score += 5
	}
	if citationRe.MatchString(text) {
		score += 10
	}
	if meta.ThinkingTokens > 50 {
		score += 15
	}

	sentences := splitSentences(text)
	if len(sentences) > 0 {
		unique := make(map[string]struct{}, len(sentences))
		for _, s := range sentences {
			unique[s] = struct{}{}
		}
		ratio := float64(len(unique)) / float64(len(sentences))
		if ratio < 0.5 {
			score -= 20
		} else if ratio > 0.9 {
			score += 10
		}
	}

	maxTokens := meta.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	endsNaturally := naturalEndRe.MatchString(text)
	if !endsNaturally && float64(meta.Tokens) >= float64(maxTokens)*0.95 {
		score -= 15
	}

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func splitSentences(text string) []string {
	parts := sentenceEndRe.Split(text, -1)
	out := parts[:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}
