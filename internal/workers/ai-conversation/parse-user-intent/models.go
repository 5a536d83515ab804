// internal/workers/ai-conversation/parse-user-intent/models.go
package parseuserintent

import "encoding/json"

// reply is the raw classifier answer before it is checked.
type reply struct {
	Function    json.RawMessage `json:"function"`
	Parameters  json.RawMessage `json:"parameters"`
	Confidence  json.RawMessage `json:"confidence"`
	Explanation json.RawMessage `json:"explanation"`
}

type promptExample struct {
	Function    string                 `json:"function"`
	Parameters  map[string]interface{} `json:"parameters"`
	Explanation string                 `json:"explanation,omitempty"`
}
