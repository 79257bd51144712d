// Package tools declares the function catalog advertised to the model
// tiers and the executor surface the orchestrators call. The actual
// device and search integrations live behind Executor so the response
// pipeline can run against a stub in tests.
package tools

import (
	"context"
	"fmt"

	"github.com/smartcathome/whisker/pkg/models"
)

// DirectResponseTool short-circuits the tool loop: its text becomes the
// final answer without another model pass.
const DirectResponseTool = "directResponse"

// Execution is the outcome of running one tool call.
type Execution struct {
	Tool           string `json:"tool"`
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	Output         string `json:"output,omitempty"`
	DurationMs     int64  `json:"duration_ms"`
	DirectResponse string `json:"direct_response,omitempty"`
}

// Executor runs validated tool calls against the smart home backends.
type Executor interface {
	Execute(ctx context.Context, call models.ToolCall) (Execution, error)
}

// Definitions returns the tool catalog sent to the model. Web search is
// opt-in per request since the search proxy is rate limited.
func Definitions(enableSearch bool) []models.ToolDefinition {
	defs := []models.ToolDefinition{
		{
			Name:        "updateSettings",
			Description: "調整 Smart Cat Home 的環境設定，例如溫度、光線或排程。",
			Parameters: map[string]any{
				"type":                 "object",
				"additionalProperties": true,
			},
		},
		{
			Name:        "updateCalibration",
			Description: "更新感測器校正值（例如壓力板、水位、亮度）。",
			Parameters: map[string]any{
				"type":                 "object",
				"additionalProperties": true,
			},
		},
		{
			Name:        "saveMemory",
			Description: "儲存重要的照護記憶，例如貓咪習慣或偏好。",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"content": map[string]any{"type": "string"},
					"type":    map[string]any{"type": "string", "enum": []string{"note", "conversation", "fact"}},
				},
				"required":             []string{"content"},
				"additionalProperties": true,
			},
		},
		{
			Name:        "createCareTask",
			Description: "建立後續要處理的照護任務（例如補水、清理、換砂）。",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"title":       map[string]any{"type": "string"},
					"description": map[string]any{"type": "string"},
					"priority":    map[string]any{"type": "string", "enum": []string{"low", "medium", "high"}},
				},
				"required":             []string{"title"},
				"additionalProperties": true,
			},
		},
		{
			Name:        "hardwareControl",
			Description: "直接控制智慧貓屋硬體（餵食器、補水泵、UV/排風），用於少量加餐、補水或啟停 UV 清潔。",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"target":      map[string]any{"type": "string", "enum": []string{"feeder", "hydration", "uvFan"}},
					"action":      map[string]any{"type": "string", "enum": []string{"feed", "stop", "pulse", "setState", "startCleaning", "stopCleaning"}},
					"targetGrams": map[string]any{"type": "number", "minimum": 5, "maximum": 500},
					"minGrams":    map[string]any{"type": "number", "minimum": 0, "maximum": 400},
					"durationMs":  map[string]any{"type": "number", "minimum": 200, "maximum": 10000},
					"uvOn":        map[string]any{"type": "boolean"},
					"fanOn":       map[string]any{"type": "boolean"},
					"autoMode":    map[string]any{"type": "boolean"},
				},
				"required":             []string{"target", "action"},
				"additionalProperties": false,
			},
		},
		{
			Name:        DirectResponseTool,
			Description: "當答案已經完整時，直接以此工具輸出最終回覆，結束工具流程。",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"text": map[string]any{"type": "string"},
				},
				"required":             []string{"text"},
				"additionalProperties": false,
			},
		},
	}

	if enableSearch {
		defs = append(defs, models.ToolDefinition{
			Name:        "searchWeb",
			Description: "從受控的網頁搜尋代理取得經過篩選的貓咪照護資訊。每次對話只能呼叫此工具一次，取得結果後必須立即使用這些結果回答使用者。",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{"type": "string", "description": "搜尋關鍵字（必填）"},
					"lang":  map[string]any{"type": "string", "maxLength": 5},
					"limit": map[string]any{"type": "integer", "minimum": 1, "maximum": 10},
				},
				"required":             []string{"query"},
				"additionalProperties": false,
			},
		})
	}

	return defs
}

// StubExecutor answers every call with a canned success. Used in tests
// and as a safe default when no device backend is wired up.
type StubExecutor struct{}

func (StubExecutor) Execute(_ context.Context, call models.ToolCall) (Execution, error) {
	if call.Name == DirectResponseTool {
		text, _ := call.Arguments["text"].(string)
		return Execution{Tool: call.Name, Success: true, Message: "direct response", DirectResponse: text}, nil
	}
	return Execution{
		Tool:    call.Name,
		Success: true,
		Message: fmt.Sprintf("%s acknowledged (no device backend configured)", call.Name),
	}, nil
}
