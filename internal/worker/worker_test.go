package worker

import "testing"

func TestNewAssignsUniqueID(t *testing.T) {
	w1 := New("rig1", "0xabc")
	w2 := New("rig2", "0xabc")
	if w1.ID == w2.ID {
		t.Fatal("expected distinct worker IDs")
	}
	if w1.Index == w2.Index {
		t.Fatal("expected distinct worker indexes")
	}
}

func TestRecordAcceptedRejected(t *testing.T) {
	w := New("rig1", "0xabc")
	w.RecordAccepted(4_000_000_000)
	w.RecordAccepted(4_000_000_000)
	w.RecordRejected()

	snap := w.Snapshot()
	if snap.Accepted != 2 || snap.Rejected != 1 {
		t.Fatalf("unexpected counters: %+v", snap)
	}
}

func TestSetHashrateReflectedInSnapshot(t *testing.T) {
	w := New("rig1", "0xabc")
	w.SetHashrate(123456)
	if snap := w.Snapshot(); snap.SubmitHashrate != 123456 {
		t.Fatalf("expected submit_hashrate 123456, got %d", snap.SubmitHashrate)
	}
}

func TestRecordAcceptedUpdatesReportHashrate(t *testing.T) {
	w := New("rig1", "0xabc")
	w.RecordAccepted(4_000_000_000)
	if snap := w.Snapshot(); snap.ReportHashrate == 0 {
		t.Fatal("expected report_hashrate to reflect accepted shares")
	}
}

func TestSnapshotFieldNames(t *testing.T) {
	w := New("rig1", "0xabc")
	snap := w.Snapshot()
	if snap.WorkerName != "rig1" || snap.LoginWallet != "0xabc" {
		t.Fatalf("unexpected identity fields: %+v", snap)
	}
	if snap.OnlineSinceSecs < 0 {
		t.Fatalf("expected non-negative online_since_secs, got %f", snap.OnlineSinceSecs)
	}
}
