package alert

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/newthinker/switchboard/internal/config"
	"github.com/newthinker/switchboard/internal/core"
)

// exprPattern matches "metric op value". Metric names may contain dots,
// e.g. provider.openai.failure_rate.
var exprPattern = regexp.MustCompile(`^([\w.\-]+)\s*(>=|<=|==|!=|>|<)\s*(-?[\d.]+)$`)

// Rule defines an alert rule.
type Rule struct {
	Name     string        `mapstructure:"name"`
	Expr     string        `mapstructure:"expr"`
	For      time.Duration `mapstructure:"for"`
	Severity string        `mapstructure:"severity"`
	Message  string        `mapstructure:"message"`
}

// RulesFromConfig converts configured rules, rejecting any whose expression
// does not parse.
func RulesFromConfig(cfgs []config.AlertRule) ([]Rule, error) {
	rules := make([]Rule, 0, len(cfgs))
	for _, c := range cfgs {
		r := Rule{Name: c.Name, Expr: c.Expr, For: c.For, Severity: c.Severity, Message: c.Message}
		if r.Severity == "" {
			r.Severity = "warning"
		}
		if _, _, _, err := r.parse(); err != nil {
			return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("alert rule %q: %w", r.Name, err))
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// Metric returns the metric name the rule watches.
func (r *Rule) Metric() string {
	metric, _, _, err := r.parse()
	if err != nil {
		return ""
	}
	return metric
}

func (r *Rule) parse() (metric, op string, threshold float64, err error) {
	matches := exprPattern.FindStringSubmatch(strings.TrimSpace(r.Expr))
	if len(matches) != 4 {
		return "", "", 0, fmt.Errorf("invalid expression %q", r.Expr)
	}
	threshold, err = strconv.ParseFloat(matches[3], 64)
	if err != nil {
		return "", "", 0, fmt.Errorf("invalid threshold in %q: %w", r.Expr, err)
	}
	return matches[1], matches[2], threshold, nil
}

// Evaluate evaluates the rule expression against metrics. A missing metric
// or an unparseable expression never triggers.
func (r *Rule) Evaluate(metrics map[string]float64) bool {
	metric, op, threshold, err := r.parse()
	if err != nil {
		return false
	}

	value, exists := metrics[metric]
	if !exists {
		return false
	}

	switch op {
	case ">":
		return value > threshold
	case "<":
		return value < threshold
	case ">=":
		return value >= threshold
	case "<=":
		return value <= threshold
	case "==":
		return value == threshold
	case "!=":
		return value != threshold
	default:
		return false
	}
}

// FormatMessage formats the alert message with the watched metric's value.
func (r *Rule) FormatMessage(metrics map[string]float64) string {
	msg := fmt.Sprintf("[%s] %s: %s", strings.ToUpper(r.Severity), r.Name, r.Message)
	if metric := r.Metric(); metric != "" {
		if v, ok := metrics[metric]; ok {
			msg += fmt.Sprintf(" (%s = %s)", metric, strconv.FormatFloat(v, 'g', 6, 64))
		}
	}
	return msg
}
