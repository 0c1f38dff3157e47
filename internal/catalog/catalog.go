// Package catalog loads and validates the bridge's static discovery
// catalog: the tools/resources/prompts list returned for tools/list,
// resources/list, and prompts/list without forwarding to the child
// (§4.5.3).
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
)

// Tool describes one entry from tools/list.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// Resource describes one entry from resources/list.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// Prompt describes one entry from prompts/list.
type Prompt struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Arguments   json.RawMessage `json:"arguments,omitempty"`
}

// Catalog is the bridge's discovery response set. It is loaded once from an
// optional file at startup and, per §6.4, may additionally be populated
// lazily from the child's own initialize response — so it is guarded by a
// mutex rather than treated as immutable after construction.
type Catalog struct {
	mu        sync.Mutex
	tools     []Tool
	resources []Resource
	prompts   []Prompt
	// seeded tracks which categories were already supplied by a catalog
	// file, so a later initialize response only fills in what is still
	// unset instead of overwriting an operator-curated list.
	seeded map[string]bool
}

// file is the on-disk shape loaded via --catalog-file.
type file struct {
	Tools     []Tool     `json:"tools"`
	Resources []Resource `json:"resources"`
	Prompts   []Prompt   `json:"prompts"`
}

// Load reads and validates a catalog file. Each tool's inputSchema must be
// a well-formed OpenAPI 3 (JSON Schema-compatible) schema; a malformed
// entry rejects the whole file at startup rather than surfacing later.
func Load(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	var f file
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("catalog: parse %s: %w", path, err)
	}
	for _, tool := range f.Tools {
		if err := validateSchema(tool.InputSchema); err != nil {
			return nil, fmt.Errorf("catalog: tool %q has an invalid inputSchema: %w", tool.Name, err)
		}
	}
	seeded := make(map[string]bool, 3)
	if len(f.Tools) > 0 {
		seeded["tools"] = true
	}
	if len(f.Resources) > 0 {
		seeded["resources"] = true
	}
	if len(f.Prompts) > 0 {
		seeded["prompts"] = true
	}
	return &Catalog{tools: f.Tools, resources: f.Resources, prompts: f.Prompts, seeded: seeded}, nil
}

// validateSchema parses raw as an OpenAPI 3 Schema and runs the library's
// own structural validation over it.
func validateSchema(raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	var schema openapi3.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return fmt.Errorf("decode schema: %w", err)
	}
	return schema.Validate(context.Background())
}

// Empty returns a Catalog with no static entries, used when --catalog-file
// is unset. Discovery is still answered locally (possibly with an empty
// list, per §4.5.1) unless the child's initialize response later fills it
// in via MergeFromInitialize.
func Empty() *Catalog {
	return &Catalog{seeded: make(map[string]bool)}
}

// Tools returns the current tool list. Never nil.
func (c *Catalog) Tools() []Tool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Tool{}, c.tools...)
}

// Resources returns the current resource list. Never nil.
func (c *Catalog) Resources() []Resource {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Resource{}, c.resources...)
}

// Prompts returns the current prompt list. Never nil.
func (c *Catalog) Prompts() []Prompt {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Prompt{}, c.prompts...)
}

// childInitializeResult is the subset of an initialize response this bridge
// understands as advertising a catalog, shaped the same way as the catalog
// file (§6.4).
type childInitializeResult struct {
	Tools     []Tool     `json:"tools"`
	Resources []Resource `json:"resources"`
	Prompts   []Prompt   `json:"prompts"`
}

// MergeFromInitialize inspects the child's own initialize response and, for
// any of tools/resources/prompts the catalog file did not already seed,
// adopts what the child advertised. It may be called for every initialize
// response; each category is adopted at most once, since adopting it marks
// it seeded. A malformed or catalog-shaped-nothing response is a no-op.
func (c *Catalog) MergeFromInitialize(result json.RawMessage) {
	if len(result) == 0 {
		return
	}
	var advertised childInitializeResult
	if err := json.Unmarshal(result, &advertised); err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.seeded["tools"] && len(advertised.Tools) > 0 {
		c.tools = advertised.Tools
		c.seeded["tools"] = true
	}
	if !c.seeded["resources"] && len(advertised.Resources) > 0 {
		c.resources = advertised.Resources
		c.seeded["resources"] = true
	}
	if !c.seeded["prompts"] && len(advertised.Prompts) > 0 {
		c.prompts = advertised.Prompts
		c.seeded["prompts"] = true
	}
}
