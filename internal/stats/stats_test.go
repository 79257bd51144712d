package stats

import (
	"sync"
	"testing"

	"github.com/smartcathome/whisker/pkg/models"
)

func TestSinkRecordsAndSnapshots(t *testing.T) {
	s := NewSink(10)
	s.RecordInvocation(models.InvocationRecord{Tier: models.TierPro, LatencyMs: 120})
	s.RecordInvocation(models.InvocationRecord{Tier: models.TierStandard, Degraded: true})
	s.RecordToolUse("searchWeb", true)
	s.RecordToolUse("searchWeb", false)

	snap := s.Snapshot()
	if snap.Invocations != 2 {
		t.Errorf("Invocations = %d, want 2", snap.Invocations)
	}
	if snap.Degraded != 1 {
		t.Errorf("Degraded = %d, want 1", snap.Degraded)
	}
	if snap.ToolCalls["searchWeb"] != 2 {
		t.Errorf("ToolCalls = %v", snap.ToolCalls)
	}
	if snap.ToolErrors["searchWeb"] != 1 {
		t.Errorf("ToolErrors = %v", snap.ToolErrors)
	}

	last, ok := s.LastInvocation()
	if !ok || last.Tier != models.TierStandard {
		t.Errorf("LastInvocation() = %+v, %v", last, ok)
	}
}

func TestSinkEvictsOldest(t *testing.T) {
	s := NewSink(2)
	s.RecordInvocation(models.InvocationRecord{RequestID: "a"})
	s.RecordInvocation(models.InvocationRecord{RequestID: "b"})
	s.RecordInvocation(models.InvocationRecord{RequestID: "c"})

	snap := s.Snapshot()
	if len(snap.Recent) != 2 {
		t.Fatalf("len(Recent) = %d, want 2", len(snap.Recent))
	}
	if snap.Recent[0].RequestID != "b" || snap.Recent[1].RequestID != "c" {
		t.Errorf("Recent = %v", snap.Recent)
	}
	if snap.Invocations != 3 {
		t.Errorf("Invocations = %d, want 3", snap.Invocations)
	}
}

func TestSinkConcurrentAccess(t *testing.T) {
	s := NewSink(50)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.RecordInvocation(models.InvocationRecord{Tier: models.TierPro})
			s.RecordToolUse("saveMemory", true)
			s.Snapshot()
		}()
	}
	wg.Wait()

	if snap := s.Snapshot(); snap.Invocations != 20 {
		t.Errorf("Invocations = %d, want 20", snap.Invocations)
	}
}
