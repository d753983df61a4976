package cluster

import (
	"strconv"
	"strings"

	"github.com/synnergy/redisx/resp"
)

// RedirectKind distinguishes the two cluster redirect errors.
type RedirectKind int

const (
	NoRedirect RedirectKind = iota
	Moved
	Ask
)

// Redirect is a parsed MOVED/ASK server error.
type Redirect struct {
	Kind RedirectKind
	Slot int
	Addr string
}

// ParseRedirect inspects err for a MOVED or ASK server error and, if
// found, extracts the target slot and address. MOVED means the client's
// slot map is stale and should be updated before retrying; ASK means
// retry once on the indicated node (preceded by ASKING) without updating
// the slot map, per spec.md §4.8.
func ParseRedirect(err error) (Redirect, bool) {
	serverErr, ok := err.(*resp.Error)
	if !ok {
		return Redirect{}, false
	}
	var kind RedirectKind
	switch serverErr.Prefix {
	case "MOVED":
		kind = Moved
	case "ASK":
		kind = Ask
	default:
		return Redirect{}, false
	}
	fields := strings.Fields(serverErr.Message)
	if len(fields) < 2 {
		return Redirect{}, false
	}
	slot, err2 := strconv.Atoi(fields[0])
	if err2 != nil {
		return Redirect{}, false
	}
	return Redirect{Kind: kind, Slot: slot, Addr: fields[1]}, true
}
