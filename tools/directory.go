// Package tools maintains the bridge's tool directory: the aggregated tool
// descriptors from every connected peer and the mapping from each tool name
// to the session that executes it.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/probichaux/ollama-mcp-bridge/core/protocol"
)

// Invoker executes a named tool on its owning peer. mcp.Session satisfies it.
type Invoker interface {
	// Name labels the owner in listings and diagnostics.
	Name() string
	// CallTool invokes the tool and returns the peer's result payload
	// unchanged.
	CallTool(ctx context.Context, name string, arguments json.RawMessage) (json.RawMessage, error)
}

type entry struct {
	descriptor protocol.Tool
	owner      Invoker
}

// Directory maps tool names to descriptors and owning invokers. Registration
// happens during bridge initialization, before any dispatch; reads during
// concurrent dispatch are safe. A tool name maps to exactly one owner; the
// last registration for a name wins.
type Directory struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewDirectory creates an empty Directory.
func NewDirectory() *Directory {
	return &Directory{entries: make(map[string]entry)}
}

// Register inserts or overwrites the entry for descriptor.Name.
func (d *Directory) Register(descriptor protocol.Tool, owner Invoker) error {
	if descriptor.Name == "" {
		return ErrEmptyName
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.entries[descriptor.Name] = entry{descriptor: descriptor, owner: owner}
	return nil
}

// Rebuild discards every entry and registers the given descriptors under a
// single owner. Used when the caller supplies a pre-built tool list; tools
// sourced from live sessions survive only if re-registered afterward.
func (d *Directory) Rebuild(descriptors []protocol.Tool, owner Invoker) error {
	for _, descriptor := range descriptors {
		if descriptor.Name == "" {
			return ErrEmptyName
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.entries = make(map[string]entry, len(descriptors))
	for _, descriptor := range descriptors {
		d.entries[descriptor.Name] = entry{descriptor: descriptor, owner: owner}
	}
	return nil
}

// OwnerOf returns the invoker that executes name, if any.
func (d *Directory) OwnerOf(name string) (Invoker, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	e, exists := d.entries[name]
	if !exists {
		return nil, false
	}
	return e.owner, true
}

// List returns every registered descriptor, sorted by name.
func (d *Directory) List() []protocol.Tool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	descriptors := make([]protocol.Tool, 0, len(d.entries))
	for _, e := range d.entries {
		descriptors = append(descriptors, e.descriptor)
	}

	sort.Slice(descriptors, func(i, j int) bool {
		return descriptors[i].Name < descriptors[j].Name
	})
	return descriptors
}

// Len reports the number of registered tools.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

// Dispatch routes a tool call to its owner and returns the owner's result
// payload. Returns ErrUnknownTool for an unregistered name. When the
// descriptor carries an input schema, the arguments are validated against it
// first and a mismatch fails with ErrInvalidArguments before reaching the
// peer.
func (d *Directory) Dispatch(ctx context.Context, name string, arguments json.RawMessage) (json.RawMessage, error) {
	d.mu.RLock()
	e, exists := d.entries[name]
	d.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	if err := validateArguments(e.descriptor, arguments); err != nil {
		return nil, err
	}

	return e.owner.CallTool(ctx, name, arguments)
}
