package worker

import "encoding/json"

// jsonMarshalMust is used only for literals this package builds itself
// (never user input), matching internal/chatmemory's jsonbLiteral helper.
func jsonMarshalMust(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}
