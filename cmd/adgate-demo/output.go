package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"adgate/core"
)

const (
	ansiGreen = "\x1b[32m"
	ansiRed   = "\x1b[31m"
	ansiReset = "\x1b[0m"
)

// printer renders results either as JSON lines or as human-readable text,
// colored only when writing to a terminal.
type printer struct {
	w     io.Writer
	json  bool
	color bool
}

func newPrinter(w io.Writer) *printer {
	p := &printer{w: w, json: jsonOutput}
	if f, ok := w.(*os.File); ok {
		p.color = term.IsTerminal(int(f.Fd()))
	}
	return p
}

func (p *printer) value(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
		return
	}
	fmt.Fprintln(p.w, string(data))
}

func (p *printer) paint(s, color string) string {
	if !p.color {
		return s
	}
	return color + s + ansiReset
}

func (p *printer) decision(d core.GateDecision) {
	if p.json {
		p.value(d)
		return
	}
	verdict := p.paint("GRANTED", ansiGreen)
	if !d.Granted {
		verdict = p.paint("DENIED", ansiRed)
	}
	line := fmt.Sprintf("unlock %s  reason=%s", verdict, d.Reason)
	if d.Reward != nil {
		line += fmt.Sprintf("  reward=%d %s", d.Reward.Amount, d.Reward.Type)
	}
	if d.Dismissed {
		line += "  (closed early)"
	}
	if d.RequestID != "" {
		line += "  request=" + d.RequestID
	}
	fmt.Fprintln(p.w, line)
}

func (p *printer) event(ev core.Event) {
	if p.json {
		p.value(ev)
		return
	}
	switch ev.Type {
	case core.EventSlotStateChanged:
		fmt.Fprintf(p.w, "%s  slot %s -> %s\n", ev.Time.Format("15:04:05.000"), ev.From, ev.To)
	case core.EventGateDecision:
		fmt.Fprintf(p.w, "%s  ", ev.Time.Format("15:04:05.000"))
		p.decision(*ev.Decision)
	case core.EventEngagementRecorded:
		fmt.Fprintf(p.w, "%s  engagements=%d\n", ev.Time.Format("15:04:05.000"), ev.Count)
	case core.EventAdsEnabledChanged:
		fmt.Fprintf(p.w, "%s  ads_enabled=%t\n", ev.Time.Format("15:04:05.000"), *ev.Enabled)
	default:
		detail := ev.HandleID
		if ev.ShowKind != "" {
			detail = string(ev.ShowKind)
		}
		if ev.Error != "" {
			detail += " error=" + ev.Error
		}
		fmt.Fprintf(p.w, "%s  %s %s\n", ev.Time.Format("15:04:05.000"), ev.Type, detail)
	}
}
