package rpc

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/chronicals/sdk/jsonrpc"
)

// Handler processes one inbound call or notification's already-validated
// params and returns a result to be schema-validated and sent back (for
// calls) or ignored (for notifications).
type Handler func(ctx context.Context, params jsonrpc.RawMessage) (result any, err error)

// RawMessage re-exports the wire package's raw JSON type so callers of this
// package rarely need to import jsonrpc directly for simple handlers.
type RawMessage = jsonrpc.RawMessage

// Method is one entry in a Dictionary: a name, its handler, and the input
// and output schemas both sides validate against.
type Method struct {
	Name         string
	InputSchema  *jsonschema.Schema
	OutputSchema *jsonschema.Schema
	IsNotify     bool
	Handler      Handler
}

type resolvedMethod struct {
	spec           Method
	inputResolved  *jsonschema.Resolved
	outputResolved *jsonschema.Resolved
}

// Dictionary is a registered, schema-resolved set of RPC methods — either
// the methods the peer may invoke on us (HostMethods) or the methods we may
// invoke on the peer (PeerMethods). Resolution happens once at Register
// time, resolving schemas eagerly rather than per-call.
type Dictionary struct {
	mu      sync.RWMutex
	methods map[string]*resolvedMethod
}

// NewDictionary returns an empty method dictionary.
func NewDictionary() *Dictionary {
	return &Dictionary{methods: make(map[string]*resolvedMethod)}
}

// Register resolves m's schemas and adds it to the dictionary. It is an
// error to register the same method name twice or to omit an input schema.
func (d *Dictionary) Register(m Method) error {
	if m.Name == "" {
		return fmt.Errorf("rpc: method name is required")
	}
	if m.InputSchema == nil {
		return fmt.Errorf("rpc: method %q: missing input schema", m.Name)
	}

	inputResolved, err := m.InputSchema.Resolve(&jsonschema.ResolveOptions{ValidateDefaults: true})
	if err != nil {
		return fmt.Errorf("rpc: method %q: resolving input schema: %w", m.Name, err)
	}
	var outputResolved *jsonschema.Resolved
	if m.OutputSchema != nil {
		outputResolved, err = m.OutputSchema.Resolve(&jsonschema.ResolveOptions{ValidateDefaults: true})
		if err != nil {
			return fmt.Errorf("rpc: method %q: resolving output schema: %w", m.Name, err)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.methods[m.Name]; exists {
		return fmt.Errorf("rpc: method %q already registered", m.Name)
	}
	d.methods[m.Name] = &resolvedMethod{spec: m, inputResolved: inputResolved, outputResolved: outputResolved}
	return nil
}

func (d *Dictionary) lookup(name string) (*resolvedMethod, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rm, ok := d.methods[name]
	return rm, ok
}

// validateAgainst unmarshals into a generic map, applies schema defaults,
// validates, and re-marshals, so defaults supplied by the schema reach the
// handler.
func validateAgainst(resolved *jsonschema.Resolved, data []byte) ([]byte, error) {
	if resolved == nil {
		return data, nil
	}
	var mapData map[string]any
	if len(data) == 0 {
		mapData = make(map[string]any)
	} else if err := jsonrpc.Unmarshal(data, &mapData); err != nil {
		return nil, fmt.Errorf("unmarshaling for validation: %w", err)
	}
	if err := resolved.ApplyDefaults(&mapData); err != nil {
		return nil, fmt.Errorf("applying schema defaults: %w", err)
	}
	if err := resolved.Validate(&mapData); err != nil {
		return nil, err
	}
	out, err := jsonrpc.Marshal(mapData)
	if err != nil {
		return nil, fmt.Errorf("marshaling validated result: %w", err)
	}
	return out, nil
}
