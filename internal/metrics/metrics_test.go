package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
)

func TestRecordBreakpointSetIncrementsCounter(t *testing.T) {
	r := New("clrdbg_mcp_test")
	r.RecordBreakpointSet()
	r.RecordBreakpointSet()

	m := &dto.Metric{}
	if err := r.breakpointsSet.Write(m); err != nil {
		t.Fatal(err)
	}
	if got := m.GetCounter().GetValue(); got != 2 {
		t.Fatalf("breakpointsSet = %v, want 2", got)
	}
}

func TestRecordBreakpointHitLabelsResolved(t *testing.T) {
	r := New("clrdbg_mcp_test2")
	r.RecordBreakpointHit(true)
	r.RecordBreakpointHit(false)

	m := &dto.Metric{}
	if err := r.breakpointsHit.WithLabelValues("true").Write(m); err != nil {
		t.Fatal(err)
	}
	if got := m.GetCounter().GetValue(); got != 1 {
		t.Fatalf("breakpointsHit{resolved=true} = %v, want 1", got)
	}
}
