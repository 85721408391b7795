// Hex parsing for hashrate and difficulty fields. Mirrors the teacher's
// two-attempt hex_to_int behavior from original_source (strip "0x" and parse;
// on failure parse the raw string as-is; on both failures return 0) — this is
// load-bearing per spec.md §4.1 and testable property §8.5. go-ethereum's
// hexutil supplies the 0x-prefixed attempt since it is already the teacher's
// domain dependency (yuriy0803-open-ubiq-pool-friends go.mod).
package protocol

import (
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ParseHexTolerant parses a hashrate/difficulty value that may or may not
// carry a "0x" prefix. Both failure paths yield 0, matching the original's
// `hex_to_int(...).unwrap_or(0)` chain — a malformed value never aborts the
// connection, it just reports zero.
func ParseHexTolerant(s string) uint64 {
	if s == "" {
		return 0
	}
	if v, err := hexutil.DecodeUint64(s); err == nil {
		return v
	}
	if v, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64); err == nil {
		return v
	}
	return 0
}

// FormatHex renders h as a "0x"-prefixed lowercase hex integer, the form
// pools and the hashrate-reporting path both emit.
func FormatHex(h uint64) string {
	return hexutil.EncodeUint64(h)
}
