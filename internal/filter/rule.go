package filter

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/bakkerme/marketwatch/internal/core"
)

// RulePolicy keeps listings for which a boolean expression holds, e.g.
// `price.amount < 60 && brand in ["Nike", "Adidas"]`.
type RulePolicy struct {
	source  string
	program *vm.Program
}

func NewRulePolicy(rule string) (*RulePolicy, error) {
	rule = strings.TrimSpace(rule)
	if rule == "" {
		return nil, fmt.Errorf("rule expression is required")
	}
	program, err := expr.Compile(rule, expr.Env(ruleEnv(core.Listing{})), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile rule: %w", err)
	}
	return &RulePolicy{source: rule, program: program}, nil
}

func (p *RulePolicy) String() string {
	return p.source
}

func (p *RulePolicy) IsNew(ctx context.Context, listing core.Listing) (bool, error) {
	_ = ctx
	result, err := expr.Run(p.program, ruleEnv(listing))
	if err != nil {
		return false, fmt.Errorf("evaluate rule %q: %w", p.source, err)
	}
	matched, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("rule %q did not return bool", p.source)
	}
	return matched, nil
}

func ruleEnv(l core.Listing) map[string]interface{} {
	amount := 0.0
	currency := ""
	hasPrice := false
	if l.Price != nil {
		currency = l.Price.CurrencyCode
		if v, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(l.Price.Amount), ",", "."), 64); err == nil {
			amount = v
			hasPrice = true
		}
	}
	return map[string]interface{}{
		"id":    l.ID,
		"title": l.Title,
		"brand": l.Brand,
		"size":  l.Size,
		"url":   l.URL,
		"price": map[string]interface{}{
			"amount":   amount,
			"currency": currency,
			"known":    hasPrice,
		},
		"photos": map[string]interface{}{
			"count": len(l.Photos),
		},
		"published_at": l.PublishedAt(),
	}
}
