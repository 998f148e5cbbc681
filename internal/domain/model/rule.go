package model

import "fmt"

// ScoringRule maps an event type to the points it awards.
type ScoringRule struct {
	EventType   EventType `json:"event_type"`
	Points      int       `json:"points"`
	Enabled     bool      `json:"enabled"`
	Description string    `json:"description"`
}

// DefaultPoints returns the points table seeded when none is configured.
func DefaultPoints() map[string]int {
	return map[string]int{
		string(EventPageView):    5,
		string(EventEmailOpen):   10,
		string(EventFormSubmit):  20,
		string(EventDemoRequest): 50,
		string(EventPurchase):    100,
	}
}

// DefaultRuleDescription is the description given to seeded rules.
func DefaultRuleDescription(t EventType) string {
	return fmt.Sprintf("Default scoring rule for %s", t)
}

// DefaultRules builds enabled rules from a points table. Unknown types are
// skipped; the returned slice follows EventTypes order.
func DefaultRules(points map[string]int) []ScoringRule {
	rules := make([]ScoringRule, 0, len(points))
	for _, t := range EventTypes {
		p, ok := points[string(t)]
		if !ok {
			continue
		}
		rules = append(rules, ScoringRule{
			EventType:   t,
			Points:      p,
			Enabled:     true,
			Description: DefaultRuleDescription(t),
		})
	}
	return rules
}
