package protocol

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Signature returns a canonical string form of a batch of tool calls, used to
// detect a model re-requesting the identical batch within one turn. Each call
// contributes name(arguments) with the argument text compacted; calls are
// joined in request order.
//
// Compaction strips whitespace only. Key order is preserved, so two calls
// whose arguments differ only in key order produce different signatures. That
// is deliberate: the comparison mirrors how the model serialized the call,
// and inferring a stricter canonical form would mask reorderings we want to
// observe.
func Signature(calls []ToolCall) string {
	var b strings.Builder
	for i, call := range calls {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(call.Name)
		b.WriteByte('(')
		b.WriteString(compactJSON(call.Arguments))
		b.WriteByte(')')
	}
	return b.String()
}

func compactJSON(text string) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(text)); err != nil {
		return text
	}
	return buf.String()
}
