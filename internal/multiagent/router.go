package multiagent

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/solsticehq/solstice/pkg/models"
)

// Routing strategies.
const (
	StrategySender  = "sender"
	StrategyChannel = "channel"
	StrategyContent = "content"
	StrategyPrefix  = "prefix"
)

var validStrategies = []string{StrategySender, StrategyChannel, StrategyContent, StrategyPrefix}

type contentRule struct {
	pattern *regexp.Regexp
	agent   string
}

// Router maps an inbound message to an agent name. It is pure except for
// the prefix strategy, which strips the matched prefix from the message
// text in place so the command marker never reaches the model.
type Router struct {
	strategy    string
	rules       map[string]string
	defaultName string

	// content strategy: patterns compiled once, matched in sorted-source
	// order for determinism.
	content []contentRule

	// prefix strategy: longest prefix first so overlapping prefixes
	// resolve to the more specific rule.
	prefixes []string

	log *slog.Logger
}

// NewRouter builds a router. An unknown strategy is a construction-time
// error; invalid content patterns are skipped with a warning.
func NewRouter(strategy string, rules map[string]string, defaultName string) (*Router, error) {
	if strategy == "" {
		strategy = StrategyChannel
	}
	if defaultName == "" {
		defaultName = "default"
	}

	valid := false
	for _, s := range validStrategies {
		if strategy == s {
			valid = true
			break
		}
	}
	if !valid {
		return nil, fmt.Errorf("invalid routing strategy %q, valid: %s", strategy, strings.Join(validStrategies, ", "))
	}

	r := &Router{
		strategy:    strategy,
		rules:       rules,
		defaultName: defaultName,
		log:         slog.Default().With("component", "router"),
	}

	switch strategy {
	case StrategyContent:
		patterns := make([]string, 0, len(rules))
		for pattern := range rules {
			patterns = append(patterns, pattern)
		}
		sort.Strings(patterns)
		for _, pattern := range patterns {
			compiled, err := regexp.Compile("(?i)" + pattern)
			if err != nil {
				r.log.Warn("invalid content routing pattern", "pattern", pattern, "error", err)
				continue
			}
			r.content = append(r.content, contentRule{pattern: compiled, agent: rules[pattern]})
		}
	case StrategyPrefix:
		for prefix := range rules {
			r.prefixes = append(r.prefixes, prefix)
		}
		sort.Slice(r.prefixes, func(i, j int) bool {
			if len(r.prefixes[i]) != len(r.prefixes[j]) {
				return len(r.prefixes[i]) > len(r.prefixes[j])
			}
			return r.prefixes[i] < r.prefixes[j]
		})
	}
	return r, nil
}

// Strategy returns the active strategy name.
func (r *Router) Strategy() string {
	return r.strategy
}

// DefaultName returns the fallback agent name.
func (r *Router) DefaultName() string {
	return r.defaultName
}

// Rules returns the raw routing table.
func (r *Router) Rules() map[string]string {
	return r.rules
}

// Route returns the agent name for the message. Unknown keys and
// non-matches fall through to the default name.
func (r *Router) Route(msg *models.GatewayMessage) string {
	if msg == nil {
		return r.defaultName
	}

	switch r.strategy {
	case StrategySender:
		if name, ok := r.rules[msg.SenderID]; ok {
			return name
		}

	case StrategyChannel:
		if name, ok := r.rules[string(msg.Channel)]; ok {
			return name
		}

	case StrategyContent:
		for _, rule := range r.content {
			if rule.pattern.MatchString(msg.Text) {
				return rule.agent
			}
		}

	case StrategyPrefix:
		for _, prefix := range r.prefixes {
			if strings.HasPrefix(msg.Text, prefix) {
				msg.Text = strings.TrimSpace(strings.TrimPrefix(msg.Text, prefix))
				return r.rules[prefix]
			}
		}
	}
	return r.defaultName
}
