// Package schema validates untrusted JSON documents against embedded JSON
// Schemas before they are decoded into Go types.
package schema

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Schema names.
const (
	RuleSet         = "ruleset.json"
	ProbeStorage    = "probe_storage.json"
	ProbeCanvas     = "probe_canvas.json"
	ProbeHijack     = "probe_hijack.json"
	ProbeCookieSync = "probe_cookie_sync.json"
)

var (
	ErrInvalid       = errors.New("document does not match schema")
	ErrUnknownSchema = errors.New("unknown schema")
)

//go:embed schemas/*.json
var files embed.FS

// Set is a group of compiled schemas keyed by name.
type Set struct {
	schemas map[string]*jsonschema.Schema
}

// Load compiles every embedded schema.
func Load() (*Set, error) {
	entries, err := files.ReadDir("schemas")
	if err != nil {
		return nil, fmt.Errorf("schema.Load: %w", err)
	}
	c := jsonschema.NewCompiler()
	for _, e := range entries {
		raw, err := files.ReadFile("schemas/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("schema.Load %s: %w", e.Name(), err)
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("schema.Load %s: %w", e.Name(), err)
		}
		if err := c.AddResource(e.Name(), doc); err != nil {
			return nil, fmt.Errorf("schema.Load %s: %w", e.Name(), err)
		}
	}

	set := &Set{schemas: make(map[string]*jsonschema.Schema, len(entries))}
	for _, e := range entries {
		sch, err := c.Compile(e.Name())
		if err != nil {
			return nil, fmt.Errorf("schema.Load %s: %w", e.Name(), err)
		}
		set.schemas[e.Name()] = sch
	}
	return set, nil
}

// Validate checks raw against the named schema. Empty input, invalid JSON
// and schema violations all wrap ErrInvalid.
func (s *Set) Validate(name string, raw []byte) error {
	sch, ok := s.schemas[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSchema, name)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return fmt.Errorf("%w: empty document", ErrInvalid)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%w: not valid JSON: %v", ErrInvalid, err)
	}
	if err := sch.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

var defaultSet = sync.OnceValues(Load)

// Validate checks raw against one of the embedded schemas.
func Validate(name string, raw []byte) error {
	set, err := defaultSet()
	if err != nil {
		return err
	}
	return set.Validate(name, raw)
}
