package ultra

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/smartcathome/whisker/pkg/models"
)

// simpleInquiryPatterns catch greetings and identity questions that only
// ever need a short reply.
var simpleInquiryPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bwho\s+are\s+you\b`),
	regexp.MustCompile(`(?i)\bwho\s+is\s+this\b`),
	regexp.MustCompile(`(?i)\bare\s+you\b.*\?`),
	regexp.MustCompile(`(?i)\bhi\b`),
	regexp.MustCompile(`(?i)\bhello\b`),
	regexp.MustCompile(`(?i)\bhey\b`),
	regexp.MustCompile(`(?i)\bthanks\b`),
	regexp.MustCompile(`(?i)\bthank you\b`),
	regexp.MustCompile(`[你妳]是誰`),
	regexp.MustCompile(`[你妳]叫什麼`),
	regexp.MustCompile(`你好`),
	regexp.MustCompile(`哈囉`),
	regexp.MustCompile(`嗨`),
	regexp.MustCompile(`謝謝`),
	regexp.MustCompile(`感謝`),
}

var catKeywordPatterns = []*regexp.Regexp{
	regexp.MustCompile(`貓`),
	regexp.MustCompile(`猫`),
	regexp.MustCompile(`(?i)\bcats?\b`),
	regexp.MustCompile(`(?i)\bkitten`),
	regexp.MustCompile(`喵`),
}

// CareSection is one topic block of a comprehensive care report.
type CareSection string

const (
	SectionDiet        CareSection = "diet"
	SectionHydration   CareSection = "hydration"
	SectionLitter      CareSection = "litter"
	SectionEnvironment CareSection = "environment"
	SectionPlay        CareSection = "play"
	SectionGrooming    CareSection = "grooming"
	SectionHealth      CareSection = "health"
)

type careSectionDef struct {
	section  CareSection
	keywords []*regexp.Regexp
	zh       string
	en       string
}

var careSectionDefs = []careSectionDef{
	{SectionDiet, compileAll(`(?i)diet`, `(?i)meal`, `餵`, `餐`, `吃`, `食`, `營養`, `膳食`), "飲食", "Diet"},
	{SectionHydration, compileAll(`(?i)drink`, `(?i)water`, `(?i)hydration`, `喝水`, `水位`, `飲水`), "飲水", "Hydration"},
	{SectionLitter, compileAll(`(?i)litter`, `(?i)sandbox`, `排泄`, `砂`, `廁所`, `尿`, `便`), "砂盆", "Litter"},
	{SectionEnvironment, compileAll(`(?i)environment`, `(?i)temperature`, `(?i)humidity`, `光`, `環境`, `溫度`, `濕度`, `空氣`), "環境", "Environment"},
	{SectionPlay, compileAll(`(?i)play`, `(?i)toy`, `互動`, `遊戲`, `陪伴`, `活動`, `逗貓`), "互動/遊戲", "Play & Enrichment"},
	{SectionGrooming, compileAll(`(?i)groom`, `(?i)brush`, `梳`, `毛`, `美容`, `清潔`), "梳理", "Grooming"},
	{SectionHealth, compileAll(`(?i)health`, `(?i)vet`, `醫`, `健康`, `疫苗`, `驅蟲`, `生病`), "健康", "Health"},
}

func compileAll(patterns ...string) []*regexp.Regexp {
	res := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		res[i] = regexp.MustCompile(p)
	}
	return res
}

// shortQuestionRunes is the length under which a cat mention without any
// care topic still gets a short reply instead of a report.
const shortQuestionRunes = 18

func matchAny(text string, patterns []*regexp.Regexp) bool {
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func mentionsCareTopic(text string) bool {
	for _, def := range careSectionDefs {
		if matchAny(text, def.keywords) {
			return true
		}
	}
	return false
}

// NeedsComprehensiveReport decides whether the question deserves the full
// sectioned care report or a short conversational reply.
func NeedsComprehensiveReport(question string) bool {
	trimmed := strings.TrimSpace(question)
	if trimmed == "" {
		return false
	}
	if matchAny(trimmed, simpleInquiryPatterns) {
		return false
	}
	hasCat := matchAny(trimmed, catKeywordPatterns)
	hasTopic := mentionsCareTopic(trimmed)
	if !hasCat && !hasTopic {
		return false
	}
	if !hasTopic && utf8.RuneCountInString(trimmed) <= shortQuestionRunes {
		return false
	}
	return true
}

// DetermineCareSections lists the report sections the question touches.
// Health is always included once anything matches; no match at all means
// the full default set.
func DetermineCareSections(question string) []CareSection {
	trimmed := strings.TrimSpace(question)
	if trimmed == "" {
		return allSections()
	}

	var matched []CareSection
	hasHealth := false
	for _, def := range careSectionDefs {
		if matchAny(trimmed, def.keywords) {
			matched = append(matched, def.section)
			if def.section == SectionHealth {
				hasHealth = true
			}
		}
	}
	if len(matched) == 0 {
		return allSections()
	}
	if !hasHealth {
		matched = append(matched, SectionHealth)
	}
	return matched
}

func allSections() []CareSection {
	sections := make([]CareSection, len(careSectionDefs))
	for i, def := range careSectionDefs {
		sections[i] = def.section
	}
	return sections
}

// FormatSectionList renders section names for prompt text in the target
// language.
func FormatSectionList(sections []CareSection, lang models.Language) string {
	labels := make([]string, 0, len(sections))
	for _, section := range sections {
		for _, def := range careSectionDefs {
			if def.section == section {
				if lang == models.LangEN {
					labels = append(labels, def.en)
				} else {
					labels = append(labels, def.zh)
				}
				break
			}
		}
	}
	sep := "、"
	if lang == models.LangEN {
		sep = ", "
	}
	return strings.Join(labels, sep)
}
