// internal/nlg/interpolate.go
package nlg

import (
	"fmt"
	"strings"
)

// Interpolate replaces every {name} token whose name is a key of slots with the slot's value.
// Unknown tokens are left as they are. The text is scanned once, so substituted values are
// never matched again.
func Interpolate(text string, slots SlotMap) string {
	if text == "" || len(slots) == 0 {
		return text
	}

	var b strings.Builder
	b.Grow(len(text))

	i := 0
	for i < len(text) {
		if text[i] != '{' {
			b.WriteByte(text[i])
			i++
			continue
		}

		end := strings.IndexByte(text[i+1:], '}')
		if end < 0 {
			b.WriteString(text[i:])
			break
		}

		name := text[i+1 : i+1+end]
		if value, ok := slots[name]; ok {
			b.WriteString(slotString(value))
			i += end + 2
			continue
		}

		b.WriteByte('{')
		i++
	}

	return b.String()
}

// slotString renders a tracker value. Absent and falsy values become "".
func slotString(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		if !val {
			return ""
		}
		return "true"
	case int:
		if val == 0 {
			return ""
		}
	case int64:
		if val == 0 {
			return ""
		}
	case float64:
		if val == 0 || val != val {
			return ""
		}
	}
	return fmt.Sprint(v)
}
