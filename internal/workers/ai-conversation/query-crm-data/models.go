// internal/workers/ai-conversation/query-crm-data/models.go
package querycrmdata

import (
	"crm-assistant/internal/models"
)

// Output is the result of one dispatched CRM read.
type Output struct {
	Action      models.Action     `json:"action"`
	Path        string            `json:"path"`
	Filters     map[string]string `json:"filters"`
	Data        models.Value      `json:"data"`
	RecordCount int               `json:"recordCount"`
}
