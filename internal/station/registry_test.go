package station

import (
	"testing"
	"time"
)

type fakeSender struct {
	sent   [][]byte
	closed bool
}

func (f *fakeSender) Send(frame []byte) bool {
	if f.closed {
		return false
	}
	f.sent = append(f.sent, frame)
	return true
}

func (f *fakeSender) Close() { f.closed = true }

func TestRegisterAndLookup(t *testing.T) {
	r := New()
	now := time.Now()
	r.Register("CP01", &fakeSender{}, now)

	rec, ok := r.Lookup("CP01")
	if !ok {
		t.Fatal("expected record to exist")
	}
	if rec.Status != Online {
		t.Errorf("Status = %v, want Online", rec.Status)
	}
	if rec.Vendor != "Unknown" || rec.Model != "Unknown" || rec.FirmwareVer != "Unknown" {
		t.Errorf("expected Unknown defaults, got %+v", rec)
	}
}

func TestUpdateBootFillsIdentity(t *testing.T) {
	r := New()
	now := time.Now()
	r.Register("CP01", &fakeSender{}, now)
	r.UpdateBoot("CP01", "ACME", "X1", "1.0", now)

	rec, _ := r.Lookup("CP01")
	if rec.Vendor != "ACME" || rec.Model != "X1" || rec.FirmwareVer != "1.0" {
		t.Errorf("got %+v", rec)
	}
	if rec.Status != Online {
		t.Errorf("Status = %v, want Online", rec.Status)
	}
}

func TestMarkOfflineKeepsRecord(t *testing.T) {
	r := New()
	now := time.Now()
	r.Register("CP01", &fakeSender{}, now)
	r.MarkOffline("CP01")

	rec, ok := r.Lookup("CP01")
	if !ok {
		t.Fatal("record should still exist after MarkOffline")
	}
	if rec.Status != Offline {
		t.Errorf("Status = %v, want Offline", rec.Status)
	}
	if r.Sender("CP01") != nil {
		t.Error("Sender() should be nil for an offline station")
	}
}

func TestReRegisterReplaces(t *testing.T) {
	r := New()
	now := time.Now()
	first := &fakeSender{}
	r.Register("CP01", first, now)
	r.MarkOffline("CP01")

	second := &fakeSender{}
	r.Register("CP01", second, now.Add(time.Minute))

	rec, _ := r.Lookup("CP01")
	if rec.Status != Online {
		t.Errorf("Status = %v, want Online after re-register", rec.Status)
	}
	if r.Count() != 1 {
		t.Errorf("Count() = %d, want 1 (replace, not add)", r.Count())
	}
}

func TestStaleBefore(t *testing.T) {
	r := New()
	now := time.Now()
	r.Register("CP01", &fakeSender{}, now.Add(-2*time.Minute))
	r.Register("CP02", &fakeSender{}, now)

	stale := r.StaleBefore(now.Add(-time.Minute))
	if len(stale) != 1 || stale[0] != "CP01" {
		t.Errorf("StaleBefore() = %v, want [CP01]", stale)
	}
}

func TestSnapshotAllRedactsConn(t *testing.T) {
	r := New()
	r.Register("CP01", &fakeSender{}, time.Now())
	snaps := r.SnapshotAll()
	if len(snaps) != 1 {
		t.Fatalf("len = %d, want 1", len(snaps))
	}
	if snaps[0].Conn != nil {
		t.Error("SnapshotAll should redact the connection handle")
	}
}

func TestCountOnline(t *testing.T) {
	r := New()
	now := time.Now()
	r.Register("CP01", &fakeSender{}, now)
	r.Register("CP02", &fakeSender{}, now)
	r.MarkOffline("CP02")

	if got := r.CountOnline(); got != 1 {
		t.Errorf("CountOnline() = %d, want 1", got)
	}
}
