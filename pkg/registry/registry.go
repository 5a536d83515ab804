package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tidwall/jsonc"

	"crm-assistant/internal/models"
)

// LoadRegistry reads a catalog file. Comments and trailing commas are allowed.
func LoadRegistry(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cat Catalog
	if err := json.Unmarshal(jsonc.ToJSON(data), &cat); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	if err := cat.Validate(); err != nil {
		return nil, fmt.Errorf("invalid catalog %s: %w", path, err)
	}
	return &cat, nil
}

// Lookup returns the function with the given name.
func (c *Catalog) Lookup(name string) (Function, bool) {
	for _, f := range c.Functions {
		if f.Name == name {
			return f, true
		}
	}
	return Function{}, false
}

// Validate checks that the catalog names every dispatchable action exactly
// once and nothing else.
func (c *Catalog) Validate() error {
	seen := make(map[string]bool, len(c.Functions))
	for _, f := range c.Functions {
		if !models.ParseAction(f.Name).IsKnown() {
			return fmt.Errorf("function %q is not a known action", f.Name)
		}
		if seen[f.Name] {
			return fmt.Errorf("function %q listed twice", f.Name)
		}
		seen[f.Name] = true
		if f.Description == "" {
			return fmt.Errorf("function %q has no description", f.Name)
		}
		if t, ok := f.Parameters["type"]; ok && t != "object" {
			return fmt.Errorf("function %q parameters must be an object schema", f.Name)
		}
	}
	for _, a := range models.KnownActions {
		if !seen[string(a)] {
			return fmt.Errorf("action %q missing from catalog", a)
		}
	}
	return nil
}

// SaveRegistry writes the catalog as indented JSON, stamping LastUpdated.
func SaveRegistry(path string, cat *Catalog) error {
	if err := cat.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid catalog: %w", err)
	}
	cat.LastUpdated = time.Now().UTC().Format(time.RFC3339)

	data, err := json.MarshalIndent(cat, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
