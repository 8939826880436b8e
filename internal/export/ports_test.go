package export

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"expensetracker/internal/core"
	"expensetracker/internal/log"
)

func TestLogWriter_WriteReport(t *testing.T) {
	var buf bytes.Buffer
	w := NewLogWriter(log.New(log.Config{Level: slog.LevelInfo, Format: "json", Output: &buf}))

	period := core.MonthlyPeriod(time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC))
	report := core.BuildReport("user-9", period, []core.Transaction{{
		ID:                 "t1",
		OwnerRef:           "user-9",
		Amount:             decimal.RequireFromString("-12.30"),
		Description:        "Cinema",
		OccurrenceDate:     core.NewDate(2024, 2, 14),
		RecurrenceInterval: core.IntervalNone,
	}}, nil)

	ref, err := w.WriteReport(context.Background(), report)
	if err != nil {
		t.Fatalf("WriteReport() error = %v", err)
	}
	if ref != "log:user-9:2024-02" {
		t.Errorf("WriteReport() ref = %s, want log:user-9:2024-02", ref)
	}

	out := buf.String()
	for _, want := range []string{`"owner_ref":"user-9"`, `"period":"2024-02"`, `"total":"-12.30"`, `"component":"export"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %s: %s", want, out)
		}
	}
}

func TestLogWriter_CancelledContext(t *testing.T) {
	w := NewLogWriter(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := w.WriteReport(ctx, core.Report{}); err == nil {
		t.Error("WriteReport() should fail on a cancelled context")
	}
}
