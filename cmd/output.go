package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-orchestrator/internal/api"
	"github.com/JakeFAU/scrape-orchestrator/internal/scheduler"
	"github.com/JakeFAU/scrape-orchestrator/internal/scrape"
)

const timeLayout = "2006-01-02 15:04:05"

func (c *console) newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(c.out)
	t.SetStyle(table.StyleLight)
	return t
}

func (c *console) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *console) printJob(job scrape.Job) error {
	if c.json {
		return c.printJSON(job)
	}
	t := c.newTable()
	t.AppendHeader(table.Row{"Field", "Value"})
	t.AppendRows([]table.Row{
		{"id", job.ID},
		{"mode", job.Mode},
		{"status", job.Status},
		{"page", job.PageNum},
		{"category", job.CategoryURL},
		{"created", formatTime(job.CreatedAt)},
		{"last activity", formatTime(job.LastActivityAt)},
	})
	if job.ErrorText != "" {
		t.AppendRow(table.Row{"error", job.ErrorText})
	}
	if job.StopRequestedAt != nil {
		t.AppendRow(table.Row{"stop requested", formatTime(*job.StopRequestedAt)})
	}
	if job.StopConfirmedAt != nil {
		t.AppendRow(table.Row{"stop confirmed", formatTime(*job.StopConfirmedAt)})
		t.AppendRow(table.Row{"worker status", job.WorkerStatus})
	}
	t.Render()
	return nil
}

func (c *console) printJobs(jobs []scrape.Job) error {
	if c.json {
		return c.printJSON(jobs)
	}
	if len(jobs) == 0 {
		fmt.Fprintln(c.out, "no jobs")
		return nil
	}
	t := c.newTable()
	t.AppendHeader(table.Row{"ID", "Mode", "Status", "Page", "Created", "Error"})
	for _, job := range jobs {
		t.AppendRow(table.Row{job.ID, job.Mode, job.Status, job.PageNum, formatTime(job.CreatedAt), job.ErrorText})
	}
	t.Render()
	return nil
}

func (c *console) printLoops(loops []api.LoopView) error {
	if c.json {
		return c.printJSON(loops)
	}
	t := c.newTable()
	t.AppendHeader(table.Row{"Mode", "State", "Next In", "Interval", "Fires", "Skips", "Busy", "Active Job", "Last Error"})
	for _, l := range loops {
		next := "-"
		if l.State == scheduler.StateArmed {
			next = (time.Duration(l.RemainingSeconds) * time.Second).String()
		}
		t.AppendRow(table.Row{
			l.Mode,
			l.State,
			next,
			(time.Duration(l.IntervalSeconds) * time.Second).String(),
			l.Fires,
			l.Skips,
			strconv.FormatBool(l.Busy),
			l.ActiveJobID,
			l.LastError,
		})
	}
	t.Render()
	return nil
}

func (c *console) printConfig(cfg scrape.ScraperConfig) error {
	if c.json {
		return c.printJSON(cfg)
	}
	t := c.newTable()
	t.AppendHeader(table.Row{"Field", "Value"})
	t.AppendRows([]table.Row{
		{"categoryUrl", cfg.CategoryURL},
		{"cursor", cfg.Cursor},
		{"historyIntervalSeconds", cfg.HistoryIntervalSeconds},
		{"watcherIntervalSeconds", cfg.WatcherIntervalSeconds},
		{"delayMin", cfg.DelayMin},
		{"delayMax", cfg.DelayMax},
	})
	t.Render()
	return nil
}

// printLog writes one log line; JSON output emits one object per line.
func (c *console) printLog(rec scrape.LogRecord) {
	if c.json {
		data, err := json.Marshal(rec)
		if err != nil {
			c.logger.Warn("encode log line failed", zap.Error(err))
			return
		}
		fmt.Fprintln(c.out, string(data))
		return
	}
	fmt.Fprintf(c.out, "%s %-7s %s\n", formatTime(rec.CreatedAt), rec.Level, rec.Message)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(timeLayout)
}
