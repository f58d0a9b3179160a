package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stemsi/exstem-cbt/internal/config"
	"github.com/stemsi/exstem-cbt/internal/model"
)

func queuedEvents(t *testing.T, q *fakeQueue) []model.IntegrityEventJob {
	t.Helper()
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []model.IntegrityEventJob
	for _, raw := range q.jobs[config.WorkerKey.PersistIntegrityEventsQueue] {
		var job model.IntegrityEventJob
		if err := json.Unmarshal(raw, &job); err != nil {
			t.Fatal(err)
		}
		out = append(out, job)
	}
	return out
}

func TestRecordTabSwitch_CountsAndFreezes(t *testing.T) {
	view, _, _ := twoChoiceExam()
	h := newHarness(view)
	ctx := context.Background()
	a := h.start(t, 7, view.Ref)

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.integrity.RecordTabSwitch(ctx, a.ID, 7); err != nil {
				t.Errorf("RecordTabSwitch: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := h.store.attempt(t, a.ID).TabSwitches; got != 50 {
		t.Fatalf("tab switches = %d, want 50", got)
	}
	if events := queuedEvents(t, h.queue); len(events) != 50 || events[0].Type != model.IntegrityEventTabSwitch {
		t.Fatalf("queued %d events", len(events))
	}

	if _, err := h.attempts.Submit(ctx, a.ID, model.SubmitTriggerManual); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	n, err := h.integrity.RecordTabSwitch(ctx, a.ID, 7)
	if err != nil {
		t.Fatalf("tab switch after submit: %v", err)
	}
	if n != 50 || h.store.attempt(t, a.ID).TabSwitches != 50 {
		t.Errorf("count after submit = %d, want frozen at 50", n)
	}
	if events := queuedEvents(t, h.queue); len(events) != 50 {
		t.Errorf("terminal tab switch emitted an event")
	}
}

func TestRefreshHeartbeat_Fingerprint(t *testing.T) {
	view, _, _ := twoChoiceExam()
	h := newHarness(view)
	ctx := context.Background()
	a := h.start(t, 7, view.Ref)

	beat := func(ip, ua string) *model.HeartbeatAck {
		t.Helper()
		h.clock.Advance(30 * time.Second)
		ack, err := h.integrity.RefreshHeartbeat(ctx, HeartbeatInput{AttemptID: a.ID, StudentID: 7, IPAddress: ip, UserAgent: ua})
		if err != nil {
			t.Fatalf("RefreshHeartbeat: %v", err)
		}
		return ack
	}

	ack := beat("10.0.0.5", "Chrome/120")
	if ack.Status != model.AttemptStatusInProgress || ack.RemainingTime != 3570 {
		t.Errorf("ack = %+v", ack)
	}
	if n := len(queuedEvents(t, h.queue)); n != 0 {
		t.Fatalf("unchanged fingerprint emitted %d events", n)
	}

	beat("10.0.0.99", "Chrome/120")
	beat("10.0.0.99", "Chrome/120")
	events := queuedEvents(t, h.queue)
	if len(events) != 1 || events[0].Type != model.IntegrityEventFingerprintChanged {
		t.Fatalf("events = %+v, want one fingerprint_changed", events)
	}
	var data map[string]string
	if err := json.Unmarshal(events[0].Data, &data); err != nil {
		t.Fatal(err)
	}
	if data["previous_ip"] != "10.0.0.5" || data["ip_address"] != "10.0.0.99" {
		t.Errorf("event data = %v", data)
	}

	last, _ := h.heartbeats.LastSeen(ctx, a.ID)
	if last == nil || !last.At.Equal(h.clock.Now()) {
		t.Errorf("last beat = %+v", last)
	}
}

func TestRefreshHeartbeat_TerminalAttempt(t *testing.T) {
	view, _, _ := twoChoiceExam()
	h := newHarness(view)
	ctx := context.Background()
	a := h.start(t, 7, view.Ref)
	if _, err := h.attempts.Submit(ctx, a.ID, model.SubmitTriggerManual); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	before, _ := h.heartbeats.LastSeen(ctx, a.ID)

	h.clock.Advance(time.Minute)
	ack, err := h.integrity.RefreshHeartbeat(ctx, HeartbeatInput{AttemptID: a.ID, StudentID: 7, IPAddress: "1.2.3.4"})
	if err != nil {
		t.Fatalf("RefreshHeartbeat: %v", err)
	}
	if ack.Status != model.AttemptStatusSubmitted || ack.RemainingTime != 0 {
		t.Errorf("ack = %+v", ack)
	}
	after, _ := h.heartbeats.LastSeen(ctx, a.ID)
	if !after.At.Equal(before.At) {
		t.Error("heartbeat refreshed on a terminal attempt")
	}
}

func TestFingerprintChanged(t *testing.T) {
	tests := []struct {
		name                   string
		prevIP, prevUA, ip, ua string
		want                   bool
	}{
		{"same", "1.1.1.1", "ua", "1.1.1.1", "ua", false},
		{"ip moved", "1.1.1.1", "ua", "2.2.2.2", "ua", true},
		{"browser swapped", "1.1.1.1", "ua", "1.1.1.1", "other", true},
		{"nothing known yet", "", "", "1.1.1.1", "ua", false},
		{"client sent nothing", "1.1.1.1", "ua", "", "", false},
	}
	for _, tt := range tests {
		if got := fingerprintChanged(tt.prevIP, tt.prevUA, tt.ip, tt.ua); got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestGetIntegrityReport(t *testing.T) {
	view, _, _ := twoChoiceExam()
	h := newHarness(view)
	ctx := context.Background()
	a := h.start(t, 7, view.Ref)
	h.store.events = []model.IntegrityEvent{
		{ID: 1, AttemptID: a.ID, StudentID: 7, Type: model.IntegrityEventTabSwitch, RecordedAt: testEpoch},
	}

	report, err := h.integrity.GetReport(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetReport: %v", err)
	}
	if report.IPAddress != "10.0.0.5" || len(report.Events) != 1 {
		t.Errorf("report = %+v", report)
	}
	if report.LastHeartbeatAt == nil || !report.LastHeartbeatAt.Equal(testEpoch) {
		t.Errorf("last heartbeat = %v", report.LastHeartbeatAt)
	}
}
