package docstore

import (
	"encoding/json"
	"fmt"

	"kindred/internal/models"
)

// applyFieldOps applies ops to a JSON document body and returns the new
// body. clamped reports whether a floored decrement hit zero, which callers
// log as a consistency bug.
func applyFieldOps(data json.RawMessage, ops []FieldOp) (out json.RawMessage, clamped bool, err error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, false, models.NewInternalError(fmt.Errorf("apply field ops: %w", err))
	}

	for _, op := range ops {
		switch op.Kind {
		case OpSet:
			doc[op.Field] = op.Value

		case OpIncrement:
			cur := 0
			if v, ok := doc[op.Field].(float64); ok {
				cur = int(v)
			}
			next := cur + op.Delta
			if next < 0 && op.FloorZero {
				next = 0
				clamped = true
			}
			doc[op.Field] = next

		case OpArrayUnion:
			elem, ok := op.Value.(string)
			if !ok {
				return nil, false, models.NewInternalError(fmt.Errorf("array union on %q: non-string element", op.Field))
			}
			arr := stringArray(doc[op.Field])
			if !containsString(arr, elem) {
				arr = append(arr, elem)
			}
			doc[op.Field] = arr

		case OpArrayRemove:
			elem, ok := op.Value.(string)
			if !ok {
				return nil, false, models.NewInternalError(fmt.Errorf("array remove on %q: non-string element", op.Field))
			}
			arr := stringArray(doc[op.Field])
			kept := arr[:0]
			for _, v := range arr {
				if v != elem {
					kept = append(kept, v)
				}
			}
			doc[op.Field] = kept

		default:
			return nil, false, models.NewInternalError(fmt.Errorf("unknown field op %d", op.Kind))
		}
	}

	out, err = json.Marshal(doc)
	if err != nil {
		return nil, false, models.NewInternalError(fmt.Errorf("apply field ops: %w", err))
	}
	return out, clamped, nil
}

// stringArray coerces a decoded JSON value into a string slice.
func stringArray(v any) []string {
	switch arr := v.(type) {
	case []string:
		return arr
	case []any:
		out := make([]string, 0, len(arr))
		for _, e := range arr {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func containsString(arr []string, s string) bool {
	for _, v := range arr {
		if v == s {
			return true
		}
	}
	return false
}
