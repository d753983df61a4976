package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/synnergy/redisx/resp"
)

// formatReply renders a decoded resp.Value the way redis-cli does: plain
// text for scalars, parenthesized integers, and indented nested lines for
// aggregates.
func formatReply(v resp.Value) string {
	return formatReplyIndent(v, 0)
}

func formatReplyIndent(v resp.Value, depth int) string {
	switch v.Kind {
	case resp.KindSimpleString:
		return v.Str
	case resp.KindError:
		return "(error) " + v.Err.Error()
	case resp.KindInteger:
		return "(integer) " + strconv.FormatInt(v.Int, 10)
	case resp.KindBoolean:
		if v.Bool() {
			return "(true)"
		}
		return "(false)"
	case resp.KindDouble:
		return "(double) " + strconv.FormatFloat(v.Num, 'g', -1, 64)
	case resp.KindBigNumber:
		return "(big number) " + string(v.Bytes)
	case resp.KindBulkBytes, resp.KindVerbatimString:
		if v.IsNull() {
			return "(nil)"
		}
		return strconv.Quote(string(v.Bytes))
	case resp.KindNull:
		return "(nil)"
	case resp.KindArray, resp.KindSet, resp.KindPush:
		if v.IsNull() {
			return "(nil)"
		}
		if len(v.Arr) == 0 {
			return "(empty array)"
		}
		var b strings.Builder
		for i, e := range v.Arr {
			if i > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(strings.Repeat("  ", depth))
			fmt.Fprintf(&b, "%d) %s", i+1, formatReplyIndent(e, depth+1))
		}
		return b.String()
	case resp.KindMap:
		if v.IsNull() {
			return "(nil)"
		}
		if len(v.Map) == 0 {
			return "(empty map)"
		}
		var b strings.Builder
		for i, p := range v.Map {
			if i > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(strings.Repeat("  ", depth))
			fmt.Fprintf(&b, "%s) %s", formatReplyIndent(p.Key, depth+1), formatReplyIndent(p.Val, depth+1))
		}
		return b.String()
	default:
		return fmt.Sprintf("(unknown kind %s)", v.Kind)
	}
}
