// pkg/registry/schema.go
package registry

// Catalog is the static function catalog the classifier chooses from.
type Catalog struct {
	Version     string     `json:"version"`
	LastUpdated string     `json:"lastUpdated,omitempty"`
	Functions   []Function `json:"functions"`
}

// Function describes one CRM read operation.
type Function struct {
	Name        string                 `json:"name"`
	Signature   string                 `json:"signature"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
	Examples    []Example              `json:"examples,omitempty"`
	Tags        []string               `json:"tags,omitempty"`
}

// Example is a sample classifier reply rendered into the prompt.
type Example struct {
	Parameters  map[string]interface{} `json:"parameters"`
	Explanation string                 `json:"explanation,omitempty"`
}

// Required lists the parameters the function schema marks as required.
func (f Function) Required() []string {
	raw, ok := f.Parameters["required"]
	if !ok {
		return nil
	}
	var out []string
	switch req := raw.(type) {
	case []string:
		out = append(out, req...)
	case []interface{}:
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}
