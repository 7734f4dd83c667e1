// Package remote implements the client side of the wire session (C3):
// framed JSON request/response over a stream socket, a pre-shared-secret
// handshake, and the octet run-length codec shared with the server. The
// remote manager (C5) that drives paged allocation on top of this session
// lives in package runtime (remotemanager.go) to avoid an import cycle
// with the handle types it's constructed through.
package remote

import (
	"encoding/hex"
	"fmt"
)

// EncodeOctets renders data as the wire octet codec (spec §4.3 "Octet
// codec"): a JSON-array-shaped value whose elements alternate hex-pair
// strings and run-length integers, with a zero-run only broken out as an
// integer once it reaches length ≥ 3 (spec §8 property 7 bounds the
// result to ≤ 2·len(data)+constant). The return value is a []any ready to
// be embedded directly into a request/response object for JSON encoding.
func EncodeOctets(data []byte) []any {
	out := make([]any, 0, 2)

	var hexBuf []byte

	flushHex := func() {
		if len(hexBuf) == 0 {
			return
		}

		out = append(out, hex.EncodeToString(hexBuf))
		hexBuf = nil
	}

	i := 0
	for i < len(data) {
		if data[i] != 0 {
			hexBuf = append(hexBuf, data[i])
			i++

			continue
		}

		run := 0
		for i+run < len(data) && data[i+run] == 0 {
			run++
		}

		if run >= 3 {
			flushHex()
			out = append(out, run)
		} else {
			hexBuf = append(hexBuf, data[i:i+run]...)
		}

		i += run
	}

	flushHex()

	return out
}

// DecodeOctets reverses EncodeOctets. elems is either EncodeOctets's own
// output (run lengths as int) or the []any a JSON decoder produced for the
// encoded array (run lengths as float64): each element is either a string
// of an even number of hex digits (either case is accepted; EncodeOctets
// emits lowercase), or a non-negative integer giving a run of that many
// zero bytes. Any other shape is rejected (spec §4.3 "rejects odd-length
// hex strings, non-hex characters, and element types other than unsigned
// integer or string").
func DecodeOctets(elems []any) ([]byte, error) {
	var out []byte

	for _, e := range elems {
		switch v := e.(type) {
		case string:
			if len(v)%2 != 0 {
				return nil, fmt.Errorf("remote: odd-length hex string %q", v)
			}

			b, err := hex.DecodeString(v)
			if err != nil {
				return nil, fmt.Errorf("remote: invalid hex string %q: %w", v, err)
			}

			out = append(out, b...)
		case float64:
			if v < 0 || v != float64(int64(v)) {
				return nil, fmt.Errorf("remote: invalid zero-run length %v", v)
			}

			out = append(out, make([]byte, int64(v))...)
		case int:
			if v < 0 {
				return nil, fmt.Errorf("remote: invalid zero-run length %d", v)
			}

			out = append(out, make([]byte, v)...)
		default:
			return nil, fmt.Errorf("remote: unsupported octet element type %T", e)
		}
	}

	return out, nil
}
