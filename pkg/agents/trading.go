package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nipunasudha/monopoly-polymarket-agent/pkg/hub"
)

// TradingAgent produces trade-evaluation tasks for the main lane.
// The main lane's concurrency ceiling of one serializes trading
// decisions so two evaluations never race each other.
type TradingAgent struct {
	hub Hub
}

// NewTradingAgent creates a trading agent backed by the given hub.
func NewTradingAgent(h Hub) *TradingAgent {
	return &TradingAgent{hub: h}
}

// EvaluateParams describes a trade evaluation request. Research, when
// present, is injected into the prompt as prior findings.
type EvaluateParams struct {
	MarketID  string
	Research  string
	SessionID string
	Priority  int
}

// EvaluateTrade enqueues a trade evaluation and returns its task id.
func (a *TradingAgent) EvaluateTrade(params EvaluateParams) string {
	task := a.buildEvaluateTask(params)

	log.Debug().
		Str("taskId", task.ID).
		Str("marketId", params.MarketID).
		Msg("Enqueuing trade evaluation")

	return a.hub.Enqueue(task)
}

// EvaluateTradeAndWait enqueues a trade evaluation and blocks for its
// result.
func (a *TradingAgent) EvaluateTradeAndWait(ctx context.Context, params EvaluateParams, timeout time.Duration) (*hub.TaskResult, error) {
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}
	return a.hub.EnqueueAndWait(ctx, a.buildEvaluateTask(params), timeout)
}

// BatchEvaluate enqueues evaluations for several markets. Earlier
// markets get higher priority so they dispatch first.
func (a *TradingAgent) BatchEvaluate(marketIDs []string, research []string, sessionID string) []string {
	taskIDs := make([]string, 0, len(marketIDs))
	for i, marketID := range marketIDs {
		params := EvaluateParams{
			MarketID:  marketID,
			SessionID: sessionID,
			Priority:  10 - i,
		}
		if i < len(research) {
			params.Research = research[i]
		}
		taskIDs = append(taskIDs, a.EvaluateTrade(params))
	}
	return taskIDs
}

func (a *TradingAgent) buildEvaluateTask(params EvaluateParams) *hub.Task {
	priority := params.Priority
	if priority == 0 {
		priority = 10
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Evaluate trading opportunity for market ID: %s", params.MarketID)
	if params.Research != "" {
		b.WriteString("\n\nResearch findings:\n")
		b.WriteString(params.Research)
	}
	b.WriteString("\n\nPlease:\n")
	b.WriteString("1. Use get_market_data to retrieve current market information\n")
	b.WriteString("2. Analyze the market-implied probability from current prices\n")
	b.WriteString("3. Compare with your assessment (considering research if provided)\n")
	b.WriteString("4. Calculate expected value and edge\n")
	b.WriteString("5. Assess risk factors:\n")
	b.WriteString("   - Liquidity (can you exit easily?)\n")
	b.WriteString("   - Spread (transaction costs)\n")
	b.WriteString("   - Time to resolution (how long until market resolves?)\n")
	b.WriteString("6. Make a recommendation:\n")
	b.WriteString("   - BUY if you think the market is undervalued (your prob > market price + edge threshold)\n")
	b.WriteString("   - SELL if you think the market is overvalued (your prob < market price - edge threshold)\n")
	b.WriteString("   - PASS if edge is too small or risk is too high\n")
	b.WriteString("7. If recommending a trade, suggest appropriate position size\n")
	b.WriteString("8. Provide clear reasoning for your decision")

	return &hub.Task{
		ID:        "trade_" + params.MarketID,
		Lane:      hub.LaneMain,
		Prompt:    b.String(),
		Tools:     []string{"get_market_data", "list_markets"},
		Priority:  priority,
		SessionID: params.SessionID,
		Context: map[string]interface{}{
			"market_id":  params.MarketID,
			"research":   params.Research,
			"agent_type": "trading",
		},
	}
}
