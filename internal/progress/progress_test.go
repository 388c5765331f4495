package progress

import (
	"context"
	"testing"

	"github.com/filtergeist/filtergeist/internal/hostport"
)

type stubReporter struct {
	canceled    bool
	lastText    string
	lastPct     int
	lastMessage string
}

func (s *stubReporter) Description(text string) { s.lastText = text }
func (s *stubReporter) Progress(pct int)         { s.lastPct = pct }
func (s *stubReporter) PushMessage(_ string, text string, _ hostport.Severity) {
	s.lastMessage = text
}
func (s *stubReporter) Canceled() bool { return s.canceled }

func TestTrackerCanceledViaCancel(t *testing.T) {
	tr := NewTracker(context.Background(), nil)
	if tr.Canceled() {
		t.Fatal("expected not canceled initially")
	}
	tr.Cancel()
	if !tr.Canceled() {
		t.Fatal("expected canceled after Cancel()")
	}
}

func TestTrackerCanceledViaReporter(t *testing.T) {
	reporter := &stubReporter{}
	tr := NewTracker(context.Background(), reporter)
	if tr.Canceled() {
		t.Fatal("expected not canceled initially")
	}
	reporter.canceled = true
	if !tr.Canceled() {
		t.Fatal("expected canceled once the reporter signals it")
	}
}

func TestTrackerCanceledViaParentContext(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	tr := NewTracker(parent, nil)
	cancel()
	if !tr.Canceled() {
		t.Fatal("expected canceled when parent context is canceled")
	}
}

func TestTrackerForwardsToReporter(t *testing.T) {
	reporter := &stubReporter{}
	tr := NewTracker(context.Background(), reporter)

	tr.Describe("preparing geometry")
	tr.ReportProgress(42)
	tr.Message("info", "layer filtered", hostport.SeverityInfo)

	if reporter.lastText != "preparing geometry" {
		t.Errorf("Describe not forwarded, got %q", reporter.lastText)
	}
	if reporter.lastPct != 42 {
		t.Errorf("Progress not forwarded, got %d", reporter.lastPct)
	}
	if reporter.lastMessage != "layer filtered" {
		t.Errorf("PushMessage not forwarded, got %q", reporter.lastMessage)
	}
}

func TestTrackerNilReporterNoPanic(t *testing.T) {
	tr := NewTracker(context.Background(), nil)
	tr.Describe("x")
	tr.ReportProgress(10)
	tr.Message("info", "y", hostport.SeverityWarning)
}

func TestStepProgress(t *testing.T) {
	cases := []struct {
		step, total, want int
	}{
		{0, 0, 0},
		{1, 4, 25},
		{4, 4, 100},
		{2, 3, 66},
	}
	for _, c := range cases {
		if got := StepProgress(c.step, c.total); got != c.want {
			t.Errorf("StepProgress(%d, %d) = %d, want %d", c.step, c.total, got, c.want)
		}
	}
}

func TestCollectorRecordOperationsDoesNotPanic(t *testing.T) {
	c := NewCollector("")
	c.RecordOperation("postgresql", true, 0)
	c.RecordOperation("spatialite", false, 0)
	c.RecordStep("spatial")
	c.RecordCancellation()
}
