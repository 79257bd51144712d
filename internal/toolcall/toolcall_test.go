package toolcall

import (
	"testing"

	"github.com/smartcathome/whisker/pkg/models"
)

func TestExtractStructuredWins(t *testing.T) {
	structured := []models.ToolCall{
		{Name: "searchWeb", Arguments: map[string]any{"query": "wet food"}},
		{Name: "saveMemory", Arguments: map[string]any{"content": "ignored"}},
	}
	call, content := Extract(`to=functions.createCareTask {"title":"also ignored"}`, structured)
	if call == nil {
		t.Fatal("Extract() call = nil")
	}
	if call.Name != "searchWeb" {
		t.Errorf("Name = %q, want searchWeb", call.Name)
	}
	if content == "" {
		t.Error("content was cleared for a structured call")
	}
}

func TestExtractMarkerCall(t *testing.T) {
	call, content := Extract(`commentary to=functions.saveMemory {"content":"cat loves tuna"}`, nil)
	if call == nil {
		t.Fatal("Extract() call = nil")
	}
	if call.Name != "saveMemory" {
		t.Errorf("Name = %q, want saveMemory", call.Name)
	}
	if call.Arguments["content"] != "cat loves tuna" {
		t.Errorf("Arguments[content] = %v", call.Arguments["content"])
	}
	if content != "" {
		t.Errorf("cleaned content = %q, want empty", content)
	}
}

func TestExtractMarkerWithSurroundingText(t *testing.T) {
	in := `Let me note that. to=saveMemory {"content":"likes the window perch"} Done.`
	call, content := Extract(in, nil)
	if call == nil {
		t.Fatal("Extract() call = nil")
	}
	if call.Name != "saveMemory" {
		t.Errorf("Name = %q, want saveMemory", call.Name)
	}
	if content != "Let me note that.  Done." && content != "Let me note that. Done." {
		t.Errorf("cleaned content = %q", content)
	}
}

func TestExtractHandlesEscapesAndNesting(t *testing.T) {
	in := `to=functions.saveMemory {"content":"she said \"no {braces}\" loudly","meta":{"depth":2}}`
	call, _ := Extract(in, nil)
	if call == nil {
		t.Fatal("Extract() call = nil")
	}
	if call.Arguments["content"] != `she said "no {braces}" loudly` {
		t.Errorf("Arguments[content] = %v", call.Arguments["content"])
	}
	meta, ok := call.Arguments["meta"].(map[string]any)
	if !ok || meta["depth"] != 2.0 {
		t.Errorf("Arguments[meta] = %v", call.Arguments["meta"])
	}
}

func TestExtractImplicitJSON(t *testing.T) {
	in := `{"tool":"searchWeb","arguments":{"query":"best litter"}}`
	call, content := Extract(in, nil)
	if call == nil {
		t.Fatal("Extract() call = nil")
	}
	if call.Name != "searchWeb" {
		t.Errorf("Name = %q, want searchWeb", call.Name)
	}
	if call.Arguments["query"] != "best litter" {
		t.Errorf("Arguments[query] = %v", call.Arguments["query"])
	}
	if content != "" {
		t.Errorf("cleaned content = %q, want empty", content)
	}
}

func TestExtractImplicitJSONIgnoresPlainObjects(t *testing.T) {
	in := `Here is some data: {"weight": 4.2, "unit": "kg"}`
	call, content := Extract(in, nil)
	if call != nil {
		t.Fatalf("Extract() call = %+v, want nil", call)
	}
	if content != in {
		t.Errorf("content = %q, want unchanged", content)
	}
}

func TestExtractNothing(t *testing.T) {
	in := "Your cat seems healthy, keep the routine going."
	call, content := Extract(in, nil)
	if call != nil {
		t.Fatalf("Extract() call = %+v, want nil", call)
	}
	if content != in {
		t.Errorf("content = %q, want unchanged", content)
	}
}

func TestExtractUnterminatedBlock(t *testing.T) {
	in := `to=functions.saveMemory {"content":"never closed`
	call, _ := Extract(in, nil)
	if call == nil {
		t.Fatal("Extract() call = nil")
	}
	if len(call.Arguments) != 0 {
		t.Errorf("Arguments = %v, want empty", call.Arguments)
	}
}

func TestValidateDangerousKeys(t *testing.T) {
	out := Validate("saveMemory", map[string]any{
		"content":   "fine",
		"__proto__": map[string]any{"polluted": true},
	})
	if len(out) != 0 {
		t.Errorf("Validate() = %v, want empty map", out)
	}
}

func TestValidateHardwareControlClamps(t *testing.T) {
	out := Validate("hardwareControl", map[string]any{
		"target":      "feeder",
		"action":      "dispense",
		"targetGrams": 10000.0,
		"minGrams":    -5.0,
		"durationMs":  50.0,
	})
	if out["target"] != "feeder" {
		t.Errorf("target = %v", out["target"])
	}
	if out["targetGrams"] != 500.0 {
		t.Errorf("targetGrams = %v, want 500", out["targetGrams"])
	}
	if out["minGrams"] != 0.0 {
		t.Errorf("minGrams = %v, want 0", out["minGrams"])
	}
	if out["durationMs"] != 200.0 {
		t.Errorf("durationMs = %v, want 200", out["durationMs"])
	}
}

func TestValidateHardwareControlRejectsUnknownTarget(t *testing.T) {
	out := Validate("hardwareControl", map[string]any{"target": "doorLock"})
	if _, ok := out["target"]; ok {
		t.Errorf("target = %v, want dropped", out["target"])
	}
}

func TestValidateSearchWebDefaults(t *testing.T) {
	out := Validate("searchWeb", map[string]any{"query": "cat grass"})
	if out["limit"] != 5.0 {
		t.Errorf("limit = %v, want 5", out["limit"])
	}

	out = Validate("searchWeb", map[string]any{"query": "cat grass", "limit": 99.0})
	if out["limit"] != 10.0 {
		t.Errorf("limit = %v, want 10", out["limit"])
	}
}

func TestValidateSaveMemoryDefaultsType(t *testing.T) {
	out := Validate("saveMemory", map[string]any{"content": "cat loves tuna"})
	if out["type"] != "note" {
		t.Errorf("type = %v, want note", out["type"])
	}
	out = Validate("saveMemory", map[string]any{"content": "x", "type": "banana"})
	if out["type"] != "note" {
		t.Errorf("type = %v, want note for invalid enum", out["type"])
	}
	out = Validate("saveMemory", map[string]any{"content": "x", "type": "fact"})
	if out["type"] != "fact" {
		t.Errorf("type = %v, want fact", out["type"])
	}
}

func TestValidateSettingsKeepsScalarsOnly(t *testing.T) {
	out := Validate("updateSettings", map[string]any{
		"feedInterval": 6.0,
		"autoMode":     true,
		"label":        "evil string",
		"nested":       map[string]any{"x": 1},
	})
	if out["feedInterval"] != 6.0 {
		t.Errorf("feedInterval = %v", out["feedInterval"])
	}
	if out["autoMode"] != true {
		t.Errorf("autoMode = %v", out["autoMode"])
	}
	if _, ok := out["label"]; ok {
		t.Error("label kept, want dropped")
	}
	if _, ok := out["nested"]; ok {
		t.Error("nested kept, want dropped")
	}
}

func TestValidateUnknownToolStripsNothingElse(t *testing.T) {
	out := Validate("someFutureTool", map[string]any{"anything": "goes", "n": 2.0})
	if out["anything"] != "goes" || out["n"] != 2.0 {
		t.Errorf("Validate() = %v", out)
	}
}

func TestValidateNilArgs(t *testing.T) {
	out := Validate("searchWeb", nil)
	if out == nil {
		t.Fatal("Validate() = nil, want empty map")
	}
}
