package protocol

import "testing"

func TestParseInboundLoginWithWorker(t *testing.T) {
	line := []byte(`{"id":1,"method":"eth_submitLogin","params":["0xabc123","x"],"worker":"rig1"}`)
	msg, err := ParseInbound(line)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Kind != InboundLoginWithWorker {
		t.Fatalf("expected InboundLoginWithWorker, got %v", msg.Kind)
	}
	if msg.Wallet != "0xabc123" || msg.WorkerName != "rig1" {
		t.Fatalf("unexpected fields: %+v", msg)
	}
}

func TestParseInboundLoginResolvesWorkerFromWallet(t *testing.T) {
	line := []byte(`{"id":1,"method":"eth_submitLogin","params":["0xabc.rig2","x"]}`)
	msg, err := ParseInbound(line)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Kind != InboundLogin {
		t.Fatalf("expected InboundLogin, got %v", msg.Kind)
	}
	if msg.WorkerName != "rig2" {
		t.Fatalf("expected worker name rig2, got %q", msg.WorkerName)
	}
}

func TestParseInboundLoginNoWorkerSuffixDefaults(t *testing.T) {
	line := []byte(`{"id":1,"method":"eth_submitLogin","params":["0xabc123","x"]}`)
	msg, err := ParseInbound(line)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.WorkerName != "Default" {
		t.Fatalf("expected Default, got %q", msg.WorkerName)
	}
}

func TestParseInboundRejectsEmptyWallet(t *testing.T) {
	line := []byte(`{"id":1,"method":"eth_submitLogin","params":["",""]}`)
	if _, err := ParseInbound(line); err == nil {
		t.Fatal("expected error for empty wallet")
	}
}

func TestParseInboundUnknownMethodForwarded(t *testing.T) {
	line := []byte(`{"id":5,"method":"mining.custom","params":[]}`)
	msg, err := ParseInbound(line)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Kind != InboundUnknown {
		t.Fatalf("expected InboundUnknown, got %v", msg.Kind)
	}
	if len(msg.Raw) == 0 {
		t.Fatal("expected Raw to be populated for forwarding")
	}
}

func TestParseOutboundJobWithBoundary(t *testing.T) {
	line := []byte(`{"id":0,"result":["0xjob","0xseed","0xheader","0xboundary"]}`)
	out, err := ParseOutbound(line)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Kind != OutboundJob {
		t.Fatalf("expected OutboundJob, got %v", out.Kind)
	}
	if !out.HasBoundary || out.Boundary != "0xboundary" {
		t.Fatalf("expected boundary field populated, got %+v", out)
	}
}

func TestParseOutboundJobMissingBoundary(t *testing.T) {
	line := []byte(`{"id":0,"result":["0xjob","0xseed","0xheader"]}`)
	out, err := ParseOutbound(line)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.HasBoundary {
		t.Fatal("expected HasBoundary false when result has only 3 fields")
	}
}

func TestParseOutboundAck(t *testing.T) {
	line := []byte(`{"id":3,"result":true}`)
	out, err := ParseOutbound(line)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Kind != OutboundAck || !out.AckResult {
		t.Fatalf("expected accepted ack, got %+v", out)
	}
}

func TestParseOutboundErrorObjectForm(t *testing.T) {
	line := []byte(`{"id":3,"error":{"code":-1,"message":"low difficulty share"}}`)
	out, err := ParseOutbound(line)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Kind != OutboundErrObj || out.ErrMessage != "low difficulty share" {
		t.Fatalf("unexpected result: %+v", out)
	}
}

func TestParseOutboundErrorTupleForm(t *testing.T) {
	line := []byte(`{"id":3,"error":[23, "Invalid share"]}`)
	out, err := ParseOutbound(line)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Kind != OutboundErrTuple || out.ErrCode != 23 || out.ErrMessage != "Invalid share" {
		t.Fatalf("unexpected result: %+v", out)
	}
}

func TestParseOutboundErrorStringForm(t *testing.T) {
	line := []byte(`{"id":3,"error":"unauthorized worker"}`)
	out, err := ParseOutbound(line)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Kind != OutboundErrString || out.ErrMessage != "unauthorized worker" {
		t.Fatalf("unexpected result: %+v", out)
	}
}
