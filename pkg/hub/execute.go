package hub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nipunasudha/monopoly-polymarket-agent/internal/tracing"
	"github.com/nipunasudha/monopoly-polymarket-agent/pkg/engine"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// laneSystemPrompts shape the engine's behavior per lane.
var laneSystemPrompts = map[Lane]string{
	LaneMain: "You are a quantitative trading agent specializing in prediction markets. " +
		"Analyze market data, calculate expected value, and make trading decisions. " +
		"Be precise, risk-aware, and data-driven.",
	LaneResearch: "You are a research analyst specializing in market research. " +
		"Use available tools to gather information, analyze trends, and provide insights. " +
		"Be thorough and cite sources when possible.",
	LaneMonitor: "You are a position monitoring agent. " +
		"Track open positions, analyze performance, and identify risks. " +
		"Provide clear status updates and alerts.",
	LaneCron: "You are a scheduled task agent. " +
		"Execute routine tasks, generate reports, and maintain system health. " +
		"Be efficient and reliable.",
}

const fallbackSystemPrompt = "You are a helpful AI assistant."

func systemPrompt(lane Lane) string {
	if prompt, ok := laneSystemPrompts[lane]; ok {
		return prompt
	}
	return fallbackSystemPrompt
}

// executeTask runs one task through the tool use loop. Every failure
// mode is captured in the returned result; this function never
// propagates an error to the dispatch loop.
func (h *Hub) executeTask(ctx context.Context, task *Task) *TaskResult {
	sessionID := task.SessionID
	if sessionID == "" {
		// Temporary session scoped to this task, evicted by TTL.
		sessionID = fmt.Sprintf("temp_%s", task.ID)
	}
	agentType := "task"
	if at, ok := task.Context["agent_type"].(string); ok && at != "" {
		agentType = at
	}
	if _, created := h.sessions.GetOrCreate(sessionID, agentType); created {
		h.bumpStat("sessions_created")
	}

	h.sessions.Append(sessionID, engine.Message{Role: "user", Content: task.Prompt})

	response, iterations, err := h.toolUseLoop(ctx, task, sessionID)
	if err != nil {
		return &TaskResult{
			TaskID:     task.ID,
			Success:    false,
			Error:      err.Error(),
			Iterations: iterations,
			SessionID:  sessionID,
		}
	}

	return &TaskResult{
		TaskID:     task.ID,
		Success:    true,
		Response:   response,
		Iterations: iterations,
		SessionID:  sessionID,
	}
}

// toolUseLoop drives the iterative engine call / tool invocation
// protocol until the engine returns a final answer or the iteration
// cap is hit. Tool failures, including unknown tool names, are fed
// back to the engine as error-tagged results and never abort the loop.
func (h *Hub) toolUseLoop(ctx context.Context, task *Task, sessionID string) (string, int, error) {
	logger := h.taskLogger(ctx)
	schemas := h.tools.Schemas(task.Tools)

	for iteration := 0; iteration < h.maxIterations; iteration++ {
		req := engine.Request{
			Model:     h.model,
			System:    systemPrompt(task.Lane),
			Messages:  h.sessions.History(sessionID),
			Tools:     schemas,
			MaxTokens: h.maxTokens,
		}

		resp, err := h.engine.Invoke(ctx, req)
		if err != nil {
			return "", iteration, &TaskError{TaskID: task.ID, Err: fmt.Errorf("engine call failed: %w", err)}
		}

		h.sessions.Append(sessionID, engine.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		if len(resp.ToolCalls) == 0 {
			return resp.Content, iteration + 1, nil
		}

		for _, call := range resp.ToolCalls {
			result := h.tools.Execute(ctx, call.Name, call.Input)

			content := stringifyOutput(result.Output)
			if !result.Success {
				content = fmt.Sprintf("Error: %s", result.Error)
				logger.Warn().
					Str("tool", call.Name).
					Str("error", result.Error).
					Msg("Tool call failed, feeding error back to engine")
			}

			h.sessions.Append(sessionID, engine.Message{
				Role:       "tool",
				Content:    content,
				ToolCallID: call.ID,
				IsError:    !result.Success,
			})
		}
	}

	return "", h.maxIterations, &MaxIterationsError{
		Iterations: h.maxIterations,
		SessionID:  sessionID,
	}
}

// stringifyOutput renders a tool's output for the conversation.
func stringifyOutput(output interface{}) string {
	switch v := output.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(raw)
	}
}

func (h *Hub) taskLogger(ctx context.Context) zerolog.Logger {
	return tracing.LoggerFromContext(ctx, log.Logger)
}

func panicErr(r interface{}) error {
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("panic: %v", r)
}
