package pipeline

import (
	"fmt"
	"strings"
	"time"

	"signaldesk/internal/gateway/notifier"
	"signaldesk/internal/signal"
	"signaldesk/internal/trader"
)

func orphanMessage(res RunResult, orphan *OrphanedRecordError) string {
	msg := notifier.StructuredMessage{
		Icon:      "🚨",
		Title:     "Orphaned signal needs manual cleanup",
		Timestamp: time.Now().UTC(),
		Footer:    "run " + res.RunID,
	}
	msg.AddSection("Signal",
		notifier.KV("id", orphan.SignalID),
		notifier.KV("symbol", res.Symbol),
		notifier.KV("interval", res.Interval),
	)
	msg.AddSection("Errors",
		notifier.KV("snapshot write", orphan.WriteErr),
		notifier.KV("rollback delete", orphan.DeleteErr),
	)
	return msg.RenderMarkdown()
}

func tradeMessage(sig signal.Signal, out trader.Outcome) string {
	msg := notifier.StructuredMessage{
		Timestamp: time.Now().UTC(),
		Footer:    "run " + sig.RunID,
	}
	switch {
	case out.Status == trader.StatusFailed:
		msg.Icon, msg.Title = "❌", fmt.Sprintf("%s order failed", sig.Symbol)
	case out.Degraded:
		msg.Icon, msg.Title = "⚠️", fmt.Sprintf("%s bracket placed without full protection", sig.Symbol)
	default:
		msg.Icon, msg.Title = "✅", fmt.Sprintf("%s bracket placed", sig.Symbol)
	}
	msg.AddSection("Signal",
		notifier.KV("id", sig.ID),
		notifier.KV("direction", sig.Direction),
		notifier.KV("confidence", sig.Confidence),
		notifier.KV("entry", sig.Entry),
		notifier.KV("stop", sig.Stop),
		notifier.KV("target", sig.Target),
		notifier.KV("rr", fmt.Sprintf("%.2f", sig.RiskReward)),
	)
	lines := []string{notifier.KV("status", out.Status)}
	if out.Side != "" {
		lines = append(lines, notifier.KV("side", out.Side), notifier.KV("qty", out.Quantity))
	}
	if len(out.OrderIDs) > 0 {
		lines = append(lines, notifier.KV("orders", strings.Join(out.OrderIDs, ",")))
	}
	if out.GroupID != "" {
		lines = append(lines, notifier.KV("group", out.GroupID))
	}
	if out.Reason != "" {
		lines = append(lines, notifier.KV("reason", out.Reason))
	}
	if out.Error != "" {
		lines = append(lines, notifier.KV("error", out.Error))
	}
	msg.AddSection("Order", lines...)
	return msg.RenderMarkdown()
}
