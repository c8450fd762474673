// Package pricing maps model names to per-million-token rates and prices
// usage events with them.
package pricing

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wwwnakanaka1-lgtm/claude-task-dashboard/pkg/sessionlog"
)

//go:embed pricing.json
var defaultPricingJSON []byte

const fallbackKey = "default"

type ModelPricing struct {
	Input         float64 `json:"input"` // USD per 1M tokens
	Output        float64 `json:"output"`
	CacheRead     float64 `json:"cache_read"`
	CacheCreation float64 `json:"cache_creation"`
}

type Table map[string]ModelPricing

// LoadDefault parses the embedded pricing table.
func LoadDefault() (Table, error) {
	var t Table
	if err := json.Unmarshal(defaultPricingJSON, &t); err != nil {
		return nil, fmt.Errorf("parse embedded pricing table: %w", err)
	}
	return t, nil
}

// MustDefault is LoadDefault for initialization paths where the embedded
// table being unparseable is a programming error.
func MustDefault() Table {
	t, err := LoadDefault()
	if err != nil {
		panic(err)
	}
	return t
}

// Lookup resolves pricing for a model: exact match, then longest prefix
// match, then the default fallback entry.
func (t Table) Lookup(model string) ModelPricing {
	if p, ok := t[model]; ok {
		return p
	}
	var bestKey string
	var best ModelPricing
	for key, p := range t {
		if key == fallbackKey {
			continue
		}
		if strings.HasPrefix(model, key) && len(key) > len(bestKey) {
			bestKey = key
			best = p
		}
	}
	if bestKey != "" {
		return best
	}
	return t[fallbackKey]
}

// CostOf prices a single usage event.
func (t Table) CostOf(e sessionlog.UsageEvent) float64 {
	p := t.Lookup(e.Model)
	cost := float64(e.InputTokens) * p.Input / 1_000_000
	cost += float64(e.OutputTokens) * p.Output / 1_000_000
	cost += float64(e.CacheReadTokens) * p.CacheRead / 1_000_000
	cost += float64(e.CacheCreationTokens) * p.CacheCreation / 1_000_000
	return cost
}

// CostOfAll prices a batch of events.
func (t Table) CostOfAll(events []sessionlog.UsageEvent) float64 {
	var cost float64
	for _, e := range events {
		cost += t.CostOf(e)
	}
	return cost
}
