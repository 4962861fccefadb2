package tools

import (
	"context"
	"fmt"
)

// MarketData serves prediction-market reads.
type MarketData interface {
	GetMarket(ctx context.Context, marketID string) (map[string]interface{}, error)
	ListMarkets(ctx context.Context, query string, limit int) ([]map[string]interface{}, error)
}

// Searcher runs a web research query and returns provider-shaped hits.
type Searcher interface {
	Search(ctx context.Context, query string, numResults int) ([]map[string]interface{}, error)
}

// InsightStore persists research notes for later recall.
type InsightStore interface {
	SaveInsight(ctx context.Context, marketID, content string, confidence float64) (int64, error)
}

// BuiltinDeps carries the backing services for the builtin tool set.
// Nil fields disable the corresponding tools.
type BuiltinDeps struct {
	Markets  MarketData
	Exa      Searcher
	Tavily   Searcher
	Insights InsightStore
}

// RegisterBuiltins registers the standard agent tool set against the
// provided backends.
func RegisterBuiltins(r *Registry, deps BuiltinDeps) error {
	if deps.Markets != nil {
		if err := r.Register(ToolDefinition{
			Name:        "get_market_data",
			Description: "Fetch current prices, volume, and liquidity for a Polymarket market by its condition id",
			Parameters: []ToolParameter{
				{Name: "market_id", Type: "string", Description: "Market condition id", Required: true},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				marketID, _ := params["market_id"].(string)
				return deps.Markets.GetMarket(ctx, marketID)
			},
		}); err != nil {
			return err
		}

		if err := r.Register(ToolDefinition{
			Name:        "list_markets",
			Description: "List active Polymarket markets, optionally filtered by a text query",
			Parameters: []ToolParameter{
				{Name: "query", Type: "string", Description: "Optional text filter", Required: false},
				{Name: "limit", Type: "integer", Description: "Maximum markets to return", Required: false, Default: 20},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				query, _ := params["query"].(string)
				limit := intParam(params, "limit", 20)
				return deps.Markets.ListMarkets(ctx, query, limit)
			},
		}); err != nil {
			return err
		}
	}

	if deps.Exa != nil {
		if err := r.Register(searchTool("exa_research",
			"Deep research via the Exa search API. Use for news and analysis relevant to a market question",
			deps.Exa)); err != nil {
			return err
		}
	}

	if deps.Tavily != nil {
		if err := r.Register(searchTool("tavily_search",
			"General web search via the Tavily API. Use for quick fact lookups",
			deps.Tavily)); err != nil {
			return err
		}
	}

	if deps.Insights != nil {
		if err := r.Register(ToolDefinition{
			Name:        "store_insight",
			Description: "Persist a research insight about a market so later tasks can build on it",
			Parameters: []ToolParameter{
				{Name: "market_id", Type: "string", Description: "Market the insight concerns", Required: true},
				{Name: "content", Type: "string", Description: "The insight text", Required: true},
				{Name: "confidence", Type: "number", Description: "Confidence from 0 to 1", Required: false, Default: 0.5},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				marketID, _ := params["market_id"].(string)
				content, _ := params["content"].(string)
				confidence := floatParam(params, "confidence", 0.5)
				id, err := deps.Insights.SaveInsight(ctx, marketID, content, confidence)
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{"insight_id": id, "stored": true}, nil
			},
		}); err != nil {
			return err
		}
	}

	return nil
}

func searchTool(name, description string, backend Searcher) ToolDefinition {
	return ToolDefinition{
		Name:        name,
		Description: description,
		Parameters: []ToolParameter{
			{Name: "query", Type: "string", Description: "Search query", Required: true},
			{Name: "num_results", Type: "integer", Description: "Number of results", Required: false, Default: 5},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			query, _ := params["query"].(string)
			if query == "" {
				return nil, fmt.Errorf("query cannot be empty")
			}
			n := intParam(params, "num_results", 5)
			return backend.Search(ctx, query, n)
		},
	}
}

// JSON numbers decode to float64; accept both for integer parameters.
func intParam(params map[string]interface{}, key string, fallback int) int {
	switch v := params[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return fallback
	}
}

func floatParam(params map[string]interface{}, key string, fallback float64) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return fallback
	}
}
