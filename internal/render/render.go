// Package render prints command results as coloured tables, JSON or YAML.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/newthinker/switchboard/internal/config"
	"github.com/newthinker/switchboard/internal/dispatch"
	"github.com/newthinker/switchboard/internal/health"
	"github.com/newthinker/switchboard/internal/usage"
	"github.com/newthinker/switchboard/internal/usage/history"
	"gopkg.in/yaml.v3"
)

// Format selects the output encoding.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat accepts table, json or yaml. Empty means table.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case "", FormatTable:
		return FormatTable, nil
	case FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want table, json or yaml)", s)
	}
}

// Renderer writes results to w in one format.
type Renderer struct {
	w      io.Writer
	format Format
}

// New creates a renderer.
func New(w io.Writer, format Format) *Renderer {
	return &Renderer{w: w, format: format}
}

// Data encodes v as JSON or YAML. Table format falls back to JSON. YAML
// goes through JSON first so both formats use the json field names.
func (r *Renderer) Data(v any) error {
	if r.format == FormatYAML {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encoding yaml: %w", err)
		}
		var plain any
		if err := json.Unmarshal(raw, &plain); err != nil {
			return fmt.Errorf("encoding yaml: %w", err)
		}
		enc := yaml.NewEncoder(r.w)
		enc.SetIndent(2)
		if err := enc.Encode(plain); err != nil {
			return fmt.Errorf("encoding yaml: %w", err)
		}
		return enc.Close()
	}
	enc := json.NewEncoder(r.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (r *Renderer) table() *tabwriter.Writer {
	return tabwriter.NewWriter(r.w, 0, 0, 2, ' ', 0)
}

func header(cols ...string) string {
	return color.New(color.Bold).Sprint(strings.Join(cols, "\t"))
}

// Providers lists providers in dispatch order.
func (r *Renderer) Providers(entries []dispatch.Entry) error {
	if r.format != FormatTable {
		views := make([]config.ProviderConfig, 0, len(entries))
		for _, e := range entries {
			views = append(views, e.Config.Redacted())
		}
		return r.Data(views)
	}
	if len(entries) == 0 {
		_, err := fmt.Fprintln(r.w, "No providers configured")
		return err
	}

	tw := r.table()
	fmt.Fprintln(tw, header("#", "NAME", "TYPE", "PRIORITY", "MODEL", "TIMEOUT", "COST×", "ENABLED"))
	for i, e := range entries {
		enabled := color.GreenString("yes")
		if !e.Config.Enabled {
			enabled = color.HiBlackString("no ")
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%s\t%g\t%s\n",
			i+1, e.Config.Name, e.Provider.Type(), e.Config.Priority,
			orDash(e.Config.Model), e.Config.Timeout, e.Config.CostMultiplier, enabled)
	}
	return tw.Flush()
}

// Health prints one row per provider status.
func (r *Renderer) Health(statuses []health.Status) error {
	if r.format != FormatTable {
		return r.Data(statuses)
	}
	if len(statuses) == 0 {
		_, err := fmt.Fprintln(r.w, "No providers configured")
		return err
	}

	tw := r.table()
	fmt.Fprintln(tw, header("PROVIDER", "TYPE", "STATUS", "LATENCY", "ERROR"))
	for _, st := range statuses {
		status := color.GreenString("✓ up  ")
		if !st.Healthy {
			status = color.RedString("✗ down")
		}
		name := st.Provider
		if !st.Enabled {
			name += color.HiBlackString(" (disabled)")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			name, st.Type, status, st.Latency.Round(time.Millisecond), orDash(st.Error))
	}
	return tw.Flush()
}

// Models prints catalog entries.
func (r *Renderer) Models(models []config.ModelConfig) error {
	if r.format != FormatTable {
		return r.Data(models)
	}
	if len(models) == 0 {
		_, err := fmt.Fprintln(r.w, "No models found")
		return err
	}

	tw := r.table()
	fmt.Fprintln(tw, header("PROVIDER", "MODEL", "CONTEXT", "MAX OUT", "IN $/1K", "OUT $/1K", "CAPABILITIES"))
	for _, m := range models {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%g\t%g\t%s\n",
			m.Provider, m.Name, m.ContextWindow, m.MaxOutputTokens,
			m.InputCostPer1K, m.OutputCostPer1K, strings.Join(m.Capabilities, ","))
	}
	return tw.Flush()
}

// Result prints a chat response followed by a provider and cost footer.
func (r *Renderer) Result(res *dispatch.Result) error {
	if r.format != FormatTable {
		return r.Data(res)
	}

	fmt.Fprintln(r.w, res.Response.Content)
	fmt.Fprintln(r.w)

	footer := fmt.Sprintf("── %s · %s · %d tokens · cost %.4f · %s",
		res.ProviderUsed, res.Model, res.TokensUsed, res.Cost, res.Duration.Round(time.Millisecond))
	if res.FailedOver() {
		skipped := make([]string, 0, len(res.Attempts)-1)
		for _, a := range res.Attempts[:len(res.Attempts)-1] {
			skipped = append(skipped, fmt.Sprintf("%s (%s)", a.Provider, a.Kind))
		}
		footer += color.YellowString(" · failed over from %s", strings.Join(skipped, ", "))
	}
	_, err := fmt.Fprintln(r.w, color.HiBlackString(footer))
	return err
}

// Failure prints every provider's reason from a dispatch error.
func (r *Renderer) Failure(err error) {
	failures := dispatch.Failures(err)
	if len(failures) == 0 {
		fmt.Fprintln(r.w, color.RedString("✗ %v", err))
		return
	}
	fmt.Fprintln(r.w, color.RedString("✗ all providers failed"))
	for _, f := range failures {
		fmt.Fprintf(r.w, "  %s: %v\n", color.YellowString(f.Provider), f.Err)
	}
}

// Usage prints recent history records and totals.
func (r *Renderer) Usage(records []history.Record, totals history.Totals) error {
	if r.format != FormatTable {
		return r.Data(map[string]any{"records": records, "totals": totals})
	}

	tw := r.table()
	if len(records) > 0 {
		fmt.Fprintln(tw, header("TIME", "PROVIDER", "MODEL", "RESULT", "TOKENS", "COST", "LATENCY"))
		for _, rec := range records {
			result := color.GreenString("ok  ")
			if !rec.Success {
				result = color.RedString("fail")
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%.4f\t%s\n",
				rec.At.Local().Format("01-02 15:04:05"), rec.Provider, orDash(rec.Model),
				result, rec.TotalTokens, rec.Cost, rec.Latency.Round(time.Millisecond))
		}
		fmt.Fprintln(tw)
	}

	fmt.Fprintln(tw, header("PROVIDER", "ATTEMPTS", "FAILURES", "TOKENS", "COST"))
	names := make([]string, 0, len(totals.ByProvider))
	for name := range totals.ByProvider {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		t := totals.ByProvider[name]
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%.4f\n", name, t.Attempts, t.Failures, t.TotalTokens, t.Cost)
	}
	fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%.4f\n", color.CyanString("total"),
		totals.Attempts, totals.Failures, totals.TotalTokens, totals.Cost)
	return tw.Flush()
}

// Snapshot prints live tracker counters per provider.
func (r *Renderer) Snapshot(s usage.Snapshot) error {
	if r.format != FormatTable {
		return r.Data(s)
	}

	tw := r.table()
	fmt.Fprintln(tw, header("PROVIDER", "REQUESTS", "FAILURES", "RATE", "TOKENS", "COST"))
	for _, name := range s.ProviderNames() {
		c := s.Providers[name]
		fmt.Fprintf(tw, "%s\t%d\t%d\t%.1f%%\t%d\t%.4f\n",
			name, c.Requests, c.Failures, c.FailureRate()*100, c.TotalTokens, c.Cost)
	}
	fmt.Fprintf(tw, "%s\t%d\t%d\t%.1f%%\t%d\t%.4f\n", color.CyanString("total"),
		s.Total.Requests, s.Total.Failures, s.Total.FailureRate()*100, s.Total.TotalTokens, s.Total.Cost)
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(r.w, "%d dispatches, %d failed, %d failed over, since %s\n",
		s.Dispatches.Total, s.Dispatches.Failed, s.Dispatches.FailedOver, s.Since.Local().Format(time.RFC3339))
	return err
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
