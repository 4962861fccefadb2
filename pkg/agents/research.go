package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nipunasudha/monopoly-polymarket-agent/pkg/hub"
)

// ResearchAgent produces deep-research tasks for the research lane.
// It leans on exa_research for authoritative sources, tavily_search
// for current events, and store_insight to persist findings.
type ResearchAgent struct {
	hub Hub
}

// NewResearchAgent creates a research agent backed by the given hub.
func NewResearchAgent(h Hub) *ResearchAgent {
	return &ResearchAgent{hub: h}
}

// ResearchParams describes a market research request.
type ResearchParams struct {
	Question    string
	Description string
	SessionID   string
	Priority    int
}

// ResearchMarket enqueues a deep-research task and returns its id.
// The caller can collect the result later via the hub.
func (a *ResearchAgent) ResearchMarket(params ResearchParams) string {
	task := a.buildResearchTask(params)

	log.Debug().
		Str("taskId", task.ID).
		Str("question", params.Question).
		Msg("Enqueuing market research")

	return a.hub.Enqueue(task)
}

// ResearchMarketAndWait enqueues a research task and blocks for its
// result.
func (a *ResearchAgent) ResearchMarketAndWait(ctx context.Context, params ResearchParams, timeout time.Duration) (*hub.TaskResult, error) {
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}
	return a.hub.EnqueueAndWait(ctx, a.buildResearchTask(params), timeout)
}

// QuickSearch enqueues a lightweight tavily-only search task.
func (a *ResearchAgent) QuickSearch(query, sessionID string, priority int) string {
	task := &hub.Task{
		ID:        "search_" + shortHash(query),
		Lane:      hub.LaneResearch,
		Prompt:    fmt.Sprintf("Quick search: %s\n\nUse tavily_search to find current information.", query),
		Tools:     []string{"tavily_search"},
		Priority:  priority,
		SessionID: sessionID,
		Context: map[string]interface{}{
			"query":      query,
			"agent_type": "research",
		},
	}
	return a.hub.Enqueue(task)
}

func (a *ResearchAgent) buildResearchTask(params ResearchParams) *hub.Task {
	priority := params.Priority
	if priority == 0 {
		priority = 5
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Research this prediction market: %s", params.Question)
	if params.Description != "" {
		fmt.Fprintf(&b, "\n\nMarket description: %s", params.Description)
	}
	b.WriteString("\n\nPlease:\n")
	b.WriteString("1. Use exa_research to find recent, authoritative sources about this topic\n")
	b.WriteString("2. Use tavily_search to find current news and general information\n")
	b.WriteString("3. Analyze the information and identify key factors that could influence the outcome\n")
	b.WriteString("4. Provide a structured summary with:\n")
	b.WriteString("   - Key recent developments\n")
	b.WriteString("   - Important factors to consider\n")
	b.WriteString("   - Overall assessment\n")
	b.WriteString("5. Store important insights using store_insight for future reference")

	return &hub.Task{
		ID:        "research_" + shortHash(params.Question),
		Lane:      hub.LaneResearch,
		Prompt:    b.String(),
		Tools:     []string{"exa_research", "tavily_search", "store_insight"},
		Priority:  priority,
		SessionID: params.SessionID,
		Context: map[string]interface{}{
			"market_question":    params.Question,
			"market_description": params.Description,
			"agent_type":         "research",
		},
	}
}
