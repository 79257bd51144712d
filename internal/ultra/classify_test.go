package ultra

import (
	"reflect"
	"testing"

	"github.com/smartcathome/whisker/pkg/models"
)

func TestNeedsComprehensiveReport(t *testing.T) {
	tests := []struct {
		name     string
		question string
		want     bool
	}{
		{"empty", "", false},
		{"greeting", "hi there", false},
		{"identity zh", "你是誰", false},
		{"thanks", "thanks, that helped", false},
		{"short cat mention", "do you like cats?", false},
		{"long cat question no topic", "what should I know about adopting a kitten", true},
		{"zh diet and water", "我的貓最近吃很少，也不太喝水，怎麼辦？", true},
		{"topic without cat word", "the litter box smells terrible and needs a plan", true},
		{"unrelated", "what is the weather", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NeedsComprehensiveReport(tt.question); got != tt.want {
				t.Errorf("NeedsComprehensiveReport(%q) = %v, want %v", tt.question, got, tt.want)
			}
		})
	}
}

func TestDetermineCareSectionsMatchesAndAddsHealth(t *testing.T) {
	got := DetermineCareSections("我的貓吃太多又不喝水")
	want := []CareSection{SectionDiet, SectionHydration, SectionHealth}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("DetermineCareSections() = %v, want %v", got, want)
	}
}

func TestDetermineCareSectionsHealthNotDuplicated(t *testing.T) {
	got := DetermineCareSections("my cat seems sick, should we see a vet?")
	count := 0
	for _, s := range got {
		if s == SectionHealth {
			count++
		}
	}
	if count != 1 {
		t.Errorf("DetermineCareSections() = %v, health appears %d times", got, count)
	}
}

func TestDetermineCareSectionsDefaultsToAll(t *testing.T) {
	got := DetermineCareSections("tell me everything about my cat")
	if len(got) != len(careSectionDefs) {
		t.Errorf("DetermineCareSections() = %v, want all %d sections", got, len(careSectionDefs))
	}
}

func TestFormatSectionList(t *testing.T) {
	sections := []CareSection{SectionDiet, SectionHealth}
	if got := FormatSectionList(sections, models.LangEN); got != "Diet, Health" {
		t.Errorf("FormatSectionList(en) = %q", got)
	}
	if got := FormatSectionList(sections, models.LangZH); got != "飲食、健康" {
		t.Errorf("FormatSectionList(zh) = %q", got)
	}
}
