package feed

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	frameSep        = "~m~"
	heartbeatPrefix = "~h~"
)

// ErrMalformedFrame is returned by DecodeFrames when a message does not follow
// the ~m~<len>~m~<payload> framing.
var ErrMalformedFrame = errors.New("feed: malformed frame")

// EncodeFrame wraps payload as ~m~<len>~m~<payload>.
func EncodeFrame(payload string) string {
	return frameSep + strconv.Itoa(len(payload)) + frameSep + payload
}

// DecodeFrames splits one websocket message into its frame payloads.
// A single message may carry several frames back to back.
func DecodeFrames(msg string) ([]string, error) {
	var out []string
	rest := msg
	for len(rest) > 0 {
		if !strings.HasPrefix(rest, frameSep) {
			return out, fmt.Errorf("%w: missing prefix at %q", ErrMalformedFrame, truncate(rest))
		}
		rest = rest[len(frameSep):]
		end := strings.Index(rest, frameSep)
		if end <= 0 {
			return out, fmt.Errorf("%w: missing length", ErrMalformedFrame)
		}
		n, err := strconv.Atoi(rest[:end])
		if err != nil || n < 0 {
			return out, fmt.Errorf("%w: bad length %q", ErrMalformedFrame, rest[:end])
		}
		rest = rest[end+len(frameSep):]
		if n > len(rest) {
			return out, fmt.Errorf("%w: length %d exceeds remaining %d", ErrMalformedFrame, n, len(rest))
		}
		out = append(out, rest[:n])
		rest = rest[n:]
	}
	return out, nil
}

// IsHeartbeat reports whether a frame payload is a server heartbeat (~h~N).
// Heartbeats must be echoed back verbatim or the server drops the session.
func IsHeartbeat(payload string) bool {
	return strings.HasPrefix(payload, heartbeatPrefix)
}

// Quote is a last-price update extracted from a quote-session payload.
type Quote struct {
	Symbol string
	Price  float64
}

// ParseQuote extracts the last price from a "qsd" payload:
//
//	{"m":"qsd","p":["qs_x",{"n":"OANDA:XAUUSD","s":"ok","v":{"lp":2345.6}}]}
//
// ok is false for any other message or for a qsd update that carries no
// last price (bid/ask-only updates). The exchange prefix is stripped from
// the symbol.
func ParseQuote(payload string) (Quote, bool) {
	if !gjson.Valid(payload) {
		return Quote{}, false
	}
	root := gjson.Parse(payload)
	if root.Get("m").String() != "qsd" {
		return Quote{}, false
	}
	data := root.Get("p.1")
	lp := data.Get("v.lp")
	if !lp.Exists() || lp.Type != gjson.Number {
		return Quote{}, false
	}
	sym := data.Get("n").String()
	if i := strings.LastIndexByte(sym, ':'); i >= 0 {
		sym = sym[i+1:]
	}
	if sym == "" || lp.Float() <= 0 {
		return Quote{}, false
	}
	return Quote{Symbol: strings.ToUpper(sym), Price: lp.Float()}, true
}

func truncate(s string) string {
	if len(s) > 32 {
		return s[:32] + "..."
	}
	return s
}
