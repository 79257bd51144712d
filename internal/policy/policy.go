// Package policy keeps the assistant on topic. The service answers cat
// care questions only; requests about other animals and attempts to
// override the system rules are refused with a bilingual message before
// any model is invoked, and final answers get the same screening.
package policy

import (
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/smartcathome/whisker/pkg/models"
)

// Violation names the reason a message was refused.
type Violation string

const (
	ViolationPromptInjection Violation = "prompt_injection"
	ViolationNonCat          Violation = "non_cat"
)

// Decision is a refusal with its user-facing message.
type Decision struct {
	Reason  Violation
	Message string
}

// injectionPatterns flag attempts to override the built-in rules.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(?:all\s+)?(?:previous|prior|above)\s+(?:instructions|rules|prompts)`),
	regexp.MustCompile(`(?i)disregard\s+(?:your|the)\s+(?:instructions|rules|guidelines|system\s+prompt)`),
	regexp.MustCompile(`(?i)forget\s+(?:your|all)\s+(?:instructions|rules|training)`),
	regexp.MustCompile(`(?i)you\s+are\s+(?:now|no\s+longer)\s+`),
	regexp.MustCompile(`(?i)pretend\s+(?:to\s+be|you\s+are)`),
	regexp.MustCompile(`(?i)act\s+as\s+(?:if\s+you|a|an)\s`),
	regexp.MustCompile(`(?i)\bjailbreak\b`),
	regexp.MustCompile(`(?i)\bDAN\s+mode\b`),
	regexp.MustCompile(`(?i)reveal\s+(?:your|the)\s+system\s+prompt`),
	regexp.MustCompile(`忽略(?:上面|之前|所有)?的?(?:指令|規則|指示)`),
	regexp.MustCompile(`扮演(?:其他|別的|另一個)?角色`),
	regexp.MustCompile(`解除(?:限制|規則)`),
}

// otherAnimalPatterns cover the animals owners most often ask about
// instead, across the languages the service sees in practice.
var otherAnimalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bdog(?:s|go)?\b`),
	regexp.MustCompile(`(?i)\bpupp(?:y|ies)\b`),
	regexp.MustCompile(`(?i)\bcanine\b`),
	regexp.MustCompile(`(?i)\bchien(?:s)?\b`),
	regexp.MustCompile(`(?i)\bhamster(?:s)?\b`),
	regexp.MustCompile(`(?i)\bparrot(?:s)?\b`),
	regexp.MustCompile(`(?i)\brabbit(?:s)?\b`),
	regexp.MustCompile(`(?i)\bbird(?:s)?\b`),
	regexp.MustCompile(`(?i)\breptile(?:s)?\b`),
	regexp.MustCompile(`(?i)\bfish\b`),
	regexp.MustCompile(`(?i)\bperr[oa]s?\b`),
	regexp.MustCompile(`(?i)\bcachorr(?:o|os|inha|inhas)\b`),
	regexp.MustCompile(`(?i)\bhund(?:e)?\b`),
	regexp.MustCompile(`狗`),
	regexp.MustCompile(`犬`),
	regexp.MustCompile(`汪`),
	regexp.MustCompile(`鳥`),
	regexp.MustCompile(`兔`),
	regexp.MustCompile(`倉鼠`),
	regexp.MustCompile(`其[他它]動物`),
	regexp.MustCompile(`わんこ`),
	regexp.MustCompile(`イヌ`),
	regexp.MustCompile(`강아지`),
	regexp.MustCompile(`반려견`),
}

var catPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bcat(?:s)?\b`),
	regexp.MustCompile(`(?i)\bfeline(?:s)?\b`),
	regexp.MustCompile(`(?i)\bkitty\b`),
	regexp.MustCompile(`(?i)\bkitten(?:s)?\b`),
	regexp.MustCompile(`貓`),
	regexp.MustCompile(`猫`),
	regexp.MustCompile(`喵`),
}

func matchesAny(text string, patterns []*regexp.Regexp) bool {
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// Message returns the localized refusal text for a violation.
func Message(reason Violation, lang models.Language) string {
	if reason == ViolationPromptInjection {
		if lang == models.LangEN {
			return "Smart Cat Home only follows its built-in safety rules for supporting cat care. I can't ignore those instructions or adopt a different role."
		}
		return "Smart Cat Home 僅遵循內建的安全規則來協助照顧貓咪,我無法忽略這些指引或扮演其它角色。"
	}
	if lang == models.LangEN {
		return "Smart Cat Home can only discuss cats and their wellbeing. I can't help with dogs or other animals, please rephrase your question for your cat."
	}
	return "Smart Cat Home 只針對貓咪與其照護提供協助,無法討論狗或其他動物,請將問題改成與貓咪相關喔。"
}

// CheckInput screens a user message before it reaches any model. Returns
// nil when the message is allowed.
func CheckInput(input string, lang models.Language) *Decision {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return nil
	}

	if matchesAny(trimmed, injectionPatterns) {
		log.Warn().Str("reason", string(ViolationPromptInjection)).Msg("request refused by policy guard")
		return &Decision{Reason: ViolationPromptInjection, Message: Message(ViolationPromptInjection, lang)}
	}

	// Mentioning another animal alongside a cat is fine; a question purely
	// about another animal is not.
	if matchesAny(trimmed, otherAnimalPatterns) && !matchesAny(trimmed, catPatterns) {
		log.Warn().Str("reason", string(ViolationNonCat)).Msg("request refused by policy guard")
		return &Decision{Reason: ViolationNonCat, Message: Message(ViolationNonCat, lang)}
	}

	return nil
}

// CheckAnswer screens a final model answer before delivery. Only the
// off-topic rule applies; the model may legitimately discuss injection
// attempts when refusing them.
func CheckAnswer(answer string, lang models.Language) *Decision {
	trimmed := strings.TrimSpace(answer)
	if trimmed == "" {
		return nil
	}
	if matchesAny(trimmed, otherAnimalPatterns) && !matchesAny(trimmed, catPatterns) {
		return &Decision{Reason: ViolationNonCat, Message: Message(ViolationNonCat, lang)}
	}
	return nil
}
