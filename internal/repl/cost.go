package repl

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/manash/zenspace/internal/session"
	"github.com/manash/zenspace/pkg/media"
)

// CostSource is the part of the archive cost reports read from.
type CostSource interface {
	GetCostByDateRange(ctx context.Context, start, end time.Time) (*session.CostSummary, error)
	GetTotalCost(ctx context.Context) (*session.CostSummary, error)
	GetCostByModel(ctx context.Context) ([]session.ModelCostSummary, error)
}

// WriteCostSummary prints the summary for period: today, week, month,
// total or model.
func WriteCostSummary(ctx context.Context, w io.Writer, src CostSource, period string) error {
	return writeCostSummary(ctx, w, src, period, time.Now())
}

func writeCostSummary(ctx context.Context, w io.Writer, src CostSource, period string, now time.Time) error {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	tomorrow := today.AddDate(0, 0, 1)

	switch period {
	case "today":
		return writeRange(ctx, w, src, today, tomorrow, "Today's cost", "today")
	case "week":
		return writeRange(ctx, w, src, today.AddDate(0, 0, -6), tomorrow, "Last 7 days cost", "in the last 7 days")
	case "month":
		return writeRange(ctx, w, src, today.AddDate(0, 0, -29), tomorrow, "Last 30 days cost", "in the last 30 days")
	case "total":
		summary, err := src.GetTotalCost(ctx)
		if err != nil {
			return err
		}
		if summary.EntryCount == 0 {
			fmt.Fprintln(w, "No costs recorded yet.")
			return nil
		}
		fmt.Fprintf(w, "Total cost: %s\n", formatSummary(summary))
		return nil
	case "model":
		return writeByModel(ctx, w, src)
	default:
		return fmt.Errorf("unknown cost period: %s", period)
	}
}

func writeRange(ctx context.Context, w io.Writer, src CostSource, start, end time.Time, label, empty string) error {
	summary, err := src.GetCostByDateRange(ctx, start, end)
	if err != nil {
		return err
	}
	if summary.EntryCount == 0 {
		fmt.Fprintf(w, "No costs recorded %s.\n", empty)
		return nil
	}
	fmt.Fprintf(w, "%s: %s\n", label, formatSummary(summary))
	return nil
}

func writeByModel(ctx context.Context, w io.Writer, src CostSource) error {
	summaries, err := src.GetCostByModel(ctx)
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		fmt.Fprintln(w, "No costs recorded yet.")
		return nil
	}

	fmt.Fprintf(w, "%-28s  %-6s  %s\n", "Model", "Calls", "Cost")
	fmt.Fprintln(w, strings.Repeat("-", 48))

	var totalCost float64
	var totalCalls int
	for _, ms := range summaries {
		fmt.Fprintf(w, "%-28s  %-6d  $%.4f\n", ms.Model, ms.EntryCount, ms.TotalCost)
		totalCost += ms.TotalCost
		totalCalls += ms.EntryCount
	}

	fmt.Fprintln(w, strings.Repeat("-", 48))
	fmt.Fprintf(w, "%-28s  %-6d  $%.4f\n", "Total", totalCalls, totalCost)
	return nil
}

func formatSummary(s *session.CostSummary) string {
	return fmt.Sprintf("$%.4f (%d call(s), %d image(s))", s.TotalCost, s.EntryCount, s.ImageCount)
}

func mimeOf(payload string) string {
	mimeType, _, err := media.Decode(payload)
	if err != nil {
		return ""
	}
	return mimeType
}
