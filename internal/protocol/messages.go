// Package protocol implements the line-delimited ETH Stratum JSON-RPC codec
// described in spec.md §4.1. Grounded on original_source's
// src/protocol/rpc/eth/mod.rs (the message shapes and their field layouts)
// and on the teacher's proxy/stratum.go (which methods exist and how their
// params are shaped). Per spec.md §9 design notes, the original's one
// trait-object-per-shape design is collapsed into a single tagged variant
// (InboundKind/OutboundKind) with a dispatch function per direction, instead
// of duplicated interface implementations.
package protocol

import (
	"encoding/json"
	"fmt"
)

// InboundKind tags the shape of a miner->proxy message.
type InboundKind int

const (
	InboundUnknown InboundKind = iota
	InboundLogin
	InboundLoginWithWorker
	InboundSubmitWork
	InboundSubmitHashrate
	InboundGetWork
	InboundSubscribe
)

// Inbound is the parsed, tagged form of any message a miner can send.
// Only the fields relevant to Kind are populated.
type Inbound struct {
	Kind   InboundKind
	ID     json.RawMessage
	Method string

	// InboundLogin / InboundLoginWithWorker
	Wallet       string
	Password     string
	WorkerName   string // resolved worker name (see resolveWorkerName)
	HasWorkerTag bool   // true if the "worker" field was present on the wire

	// InboundSubmitWork
	Nonce      string
	HeaderHash string
	MixDigest  string

	// InboundSubmitHashrate
	HashrateHex string
	HashrateID  string

	// InboundSubscribe
	ClientName     string
	StratumVersion string

	Raw json.RawMessage
}

type inboundEnvelope struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
	Worker *string           `json:"worker"`
}

// ParseInbound decodes a single newline-stripped line from a miner.
// Attempt-in-order against the five known shapes from spec.md §4.1; an
// unrecognized method is returned as InboundUnknown with Raw populated so the
// caller can forward it verbatim (forward compatibility, per the parser
// contract).
func ParseInbound(line []byte) (*Inbound, error) {
	var env inboundEnvelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, fmt.Errorf("invalid JSON-RPC: %w", err)
	}
	if env.Method == "" {
		return nil, fmt.Errorf("missing method")
	}

	msg := &Inbound{ID: env.ID, Method: env.Method, Raw: json.RawMessage(line)}

	switch env.Method {
	case "eth_submitLogin":
		wallet := paramStr(env.Params, 0)
		password := paramStr(env.Params, 1)
		if wallet == "" {
			return nil, fmt.Errorf("eth_submitLogin: empty wallet")
		}
		msg.Wallet = wallet
		msg.Password = password
		if env.Worker != nil {
			msg.Kind = InboundLoginWithWorker
			msg.HasWorkerTag = true
			msg.WorkerName = *env.Worker
		} else {
			msg.Kind = InboundLogin
			msg.WorkerName = resolveWorkerName(wallet)
		}
		return msg, nil

	case "eth_submitWork":
		msg.Kind = InboundSubmitWork
		msg.Nonce = paramStr(env.Params, 0)
		msg.HeaderHash = paramStr(env.Params, 1)
		msg.MixDigest = paramStr(env.Params, 2)
		return msg, nil

	case "eth_submitHashrate":
		msg.Kind = InboundSubmitHashrate
		msg.HashrateHex = paramStr(env.Params, 0)
		msg.HashrateID = paramStr(env.Params, 1)
		return msg, nil

	case "eth_getWork":
		msg.Kind = InboundGetWork
		return msg, nil

	case "mining.subscribe", "eth_subscribe":
		msg.Kind = InboundSubscribe
		msg.ClientName = paramStr(env.Params, 0)
		msg.StratumVersion = paramStr(env.Params, 1)
		return msg, nil

	default:
		msg.Kind = InboundUnknown
		return msg, nil
	}
}

// resolveWorkerName implements spec.md §4.1's fallback chain for logins with
// no "worker" field: the suffix of the wallet after the first '.', else the
// literal "Default".
func resolveWorkerName(wallet string) string {
	for i := 0; i < len(wallet); i++ {
		if wallet[i] == '.' {
			if i+1 < len(wallet) {
				return wallet[i+1:]
			}
			break
		}
	}
	return "Default"
}

func paramStr(params []json.RawMessage, idx int) string {
	if idx >= len(params) {
		return ""
	}
	var s string
	if err := json.Unmarshal(params[idx], &s); err != nil {
		return ""
	}
	return s
}

// OutboundKind tags the shape of a pool->proxy message.
type OutboundKind int

const (
	OutboundUnknown OutboundKind = iota
	OutboundJob
	OutboundAck
	OutboundErrObj
	OutboundErrTuple
	OutboundErrString
)

// Outbound is the parsed, tagged form of any message a pool can send.
type Outbound struct {
	Kind OutboundKind
	ID   uint64

	// OutboundJob
	JobID        string
	SeedHash     string
	HeaderHash   string
	Boundary     string // result[3]; "" if the pool omitted it
	HasBoundary  bool
	Height       uint64 // from a top-level "height" field, if present
	HasHeight    bool
	ResultFields []string // full result array, for difficulty-slot rewriting

	// OutboundAck
	AckResult bool

	// OutboundErrObj / OutboundErrTuple / OutboundErrString
	ErrCode    int64
	ErrMessage string

	// Synthetic is true for an Outbound manufactured locally on connection
	// loss or a stale-pending sweep (internal/upstream), as opposed to one
	// actually parsed off the wire from the pool.
	Synthetic bool

	Raw json.RawMessage
}

type outboundEnvelope struct {
	ID      json.RawMessage `json:"id"`
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   json.RawMessage `json:"error"`
	Height  *uint64         `json:"height"`
}

type errObjShape struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
}

// ParseOutbound decodes a single newline-stripped line from an upstream pool.
// Attempt-in-order: an error envelope (object, tuple, then string form) is
// tried first since its presence is unambiguous; otherwise the result value's
// JSON type (array vs bool) distinguishes a job notification from a plain
// acknowledgement.
func ParseOutbound(line []byte) (*Outbound, error) {
	var env outboundEnvelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, fmt.Errorf("invalid JSON-RPC: %w", err)
	}

	out := &Outbound{Raw: json.RawMessage(line)}
	if id, err := decodeID(env.ID); err == nil {
		out.ID = id
	}

	if len(env.Error) > 0 && string(env.Error) != "null" {
		var obj errObjShape
		if err := json.Unmarshal(env.Error, &obj); err == nil && obj.Message != "" {
			out.Kind = OutboundErrObj
			out.ErrCode = obj.Code
			out.ErrMessage = obj.Message
			return out, nil
		}

		var tuple []json.RawMessage
		if err := json.Unmarshal(env.Error, &tuple); err == nil && len(tuple) >= 2 {
			var code int64
			var msg string
			if json.Unmarshal(tuple[0], &code) == nil && json.Unmarshal(tuple[1], &msg) == nil {
				out.Kind = OutboundErrTuple
				out.ErrCode = code
				out.ErrMessage = msg
				return out, nil
			}
		}

		var str string
		if err := json.Unmarshal(env.Error, &str); err == nil {
			out.Kind = OutboundErrString
			out.ErrMessage = str
			return out, nil
		}
	}

	var arr []string
	if err := json.Unmarshal(env.Result, &arr); err == nil && len(arr) > 0 {
		out.Kind = OutboundJob
		out.ResultFields = arr
		out.JobID = arr[0]
		if len(arr) > 1 {
			out.SeedHash = arr[1]
		}
		if len(arr) > 2 {
			out.HeaderHash = arr[2]
		}
		if len(arr) > 3 {
			out.Boundary = arr[3]
			out.HasBoundary = true
		}
		if env.Height != nil {
			out.Height = *env.Height
			out.HasHeight = true
		}
		return out, nil
	}

	var b bool
	if err := json.Unmarshal(env.Result, &b); err == nil {
		out.Kind = OutboundAck
		out.AckResult = b
		return out, nil
	}

	out.Kind = OutboundUnknown
	return out, nil
}

func decodeID(raw json.RawMessage) (uint64, error) {
	if len(raw) == 0 {
		return 0, fmt.Errorf("no id")
	}
	var n uint64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	return 0, fmt.Errorf("id not numeric")
}
