package toolcall

import (
	"encoding/json"
	"strconv"

	"github.com/rs/zerolog/log"
)

// dangerousKeys can poison object prototypes once the arguments reach a
// JavaScript-side consumer, so their presence discards the whole set.
var dangerousKeys = []string{"__proto__", "constructor", "prototype"}

// Validate applies the per-tool argument schema: enum checks, numeric
// clamps, string truncation and defaults. Unknown tools get a generic
// pass that only strips dangerous keys. Never returns an error; bad
// input degrades to an empty argument set.
func Validate(name string, args map[string]any) map[string]any {
	if args == nil {
		return map[string]any{}
	}
	for _, key := range dangerousKeys {
		if _, ok := args[key]; ok {
			log.Warn().Str("tool", name).Str("key", key).Msg("dangerous argument key, discarding all arguments")
			return map[string]any{}
		}
	}

	switch name {
	case "hardwareControl":
		return validateHardwareControl(args)
	case "searchWeb":
		return validateSearchWeb(args)
	case "saveMemory":
		return validateSaveMemory(args)
	case "createCareTask":
		return validateCreateCareTask(args)
	case "updateSettings", "updateCalibration":
		return keepScalars(args)
	default:
		return copyArgs(args)
	}
}

func validateHardwareControl(args map[string]any) map[string]any {
	out := map[string]any{}
	if target, ok := asString(args["target"]); ok {
		switch target {
		case "feeder", "hydration", "uvFan":
			out["target"] = target
		}
	}
	if action, ok := asString(args["action"]); ok {
		out["action"] = action
	}
	if grams, ok := asNumber(args["targetGrams"]); ok {
		out["targetGrams"] = clamp(grams, 5, 500)
	}
	if grams, ok := asNumber(args["minGrams"]); ok {
		out["minGrams"] = clamp(grams, 0, 400)
	}
	if ms, ok := asNumber(args["durationMs"]); ok {
		out["durationMs"] = clamp(ms, 200, 10000)
	}
	return out
}

func validateSearchWeb(args map[string]any) map[string]any {
	out := map[string]any{}
	if query, ok := asString(args["query"]); ok {
		out["query"] = truncate(query, 500)
	}
	out["limit"] = 5.0
	if limit, ok := asNumber(args["limit"]); ok {
		out["limit"] = clamp(limit, 1, 10)
	}
	return out
}

func validateSaveMemory(args map[string]any) map[string]any {
	out := map[string]any{}
	if content, ok := asString(args["content"]); ok {
		out["content"] = truncate(content, 2000)
	}
	out["type"] = "note"
	if kind, ok := asString(args["type"]); ok {
		switch kind {
		case "note", "conversation", "fact":
			out["type"] = kind
		}
	}
	return out
}

func validateCreateCareTask(args map[string]any) map[string]any {
	out := map[string]any{}
	if title, ok := asString(args["title"]); ok {
		out["title"] = truncate(title, 200)
	}
	if desc, ok := asString(args["description"]); ok {
		out["description"] = truncate(desc, 1000)
	}
	out["priority"] = "medium"
	if priority, ok := asString(args["priority"]); ok {
		switch priority {
		case "low", "medium", "high":
			out["priority"] = priority
		}
	}
	return out
}

// keepScalars keeps only numeric and boolean values, dropping strings,
// arrays and nested objects.
func keepScalars(args map[string]any) map[string]any {
	out := map[string]any{}
	for key, value := range args {
		switch v := value.(type) {
		case bool:
			out[key] = v
		default:
			if n, ok := asNumber(value); ok {
				out[key] = n
			}
		}
	}
	return out
}

func copyArgs(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for key, value := range args {
		out[key] = value
	}
	return out
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok && s != ""
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
