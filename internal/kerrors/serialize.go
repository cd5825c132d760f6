package kerrors

import "encoding/json"

// wire is the JSON shape an Error takes when it crosses the IPC boundary,
// carried inside a response envelope's "return" field when "status" is
// "error". It deliberately omits Cause and the Go stack: the receiving
// side only needs kind, message, notes and a traceback string for logging.
type wire struct {
	Kind      string   `json:"kind"`
	Message   string   `json:"message"`
	Notes     []string `json:"notes"`
	Traceback string   `json:"traceback"`
}

// Serialize converts err into the wire representation used on IPC
// responses. A plain (non-*Error) error is promoted to KindGeneric first.
func Serialize(err error) map[string]any {
	e, ok := err.(*Error)
	if !ok {
		e = Wrap(KindGeneric, err, err.Error())
	}
	return map[string]any{
		"kind":      string(e.Kind),
		"message":   e.Message,
		"notes":     e.Notes,
		"traceback": e.Traceback,
	}
}

// MarshalJSON implements json.Marshaler so an *Error embedded directly in
// a response payload serializes the same way Serialize produces.
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(wire{
		Kind:      string(e.Kind),
		Message:   e.Message,
		Notes:     e.Notes,
		Traceback: e.Traceback,
	})
}

// Deserialize reconstructs an *Error from the map produced by Serialize
// (or from an arbitrary map[string]any decoded off the wire). Unknown or
// missing fields degrade gracefully rather than failing: a Worker Host on
// an older build might omit a field.
func Deserialize(data map[string]any) *Error {
	e := &Error{Kind: KindGeneric}
	if v, ok := data["kind"].(string); ok && v != "" {
		e.Kind = Kind(v)
	}
	if v, ok := data["message"].(string); ok {
		e.Message = v
	}
	if v, ok := data["traceback"].(string); ok {
		e.Traceback = v
	}
	if v, ok := data["notes"].([]any); ok {
		for _, n := range v {
			if s, ok := n.(string); ok {
				e.Notes = append(e.Notes, s)
			}
		}
	}
	return e
}
