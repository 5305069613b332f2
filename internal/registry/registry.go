// Package registry reads machine records from the node registry that provisioners write to.
package registry

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnavailable indicates the backing registry service could not be reached.
	ErrUnavailable = errors.New("registry unavailable")
	// ErrMalformedRecord indicates a node record that lacks the expected provisioner metadata.
	ErrMalformedRecord = errors.New("malformed machine record")
	// ErrNotFound indicates the registry has no document for a node.
	ErrNotFound = errors.New("node not found")
)

// IsUnavailable reports whether err indicates an unreachable registry.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// IsMalformedRecord reports whether err indicates a corrupt or foreign record.
func IsMalformedRecord(err error) bool {
	return errors.Is(err, ErrMalformedRecord)
}

// IsNotFound reports whether err indicates a missing node document.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Client lists the nodes known to a registry.
type Client interface {
	ListNodes(ctx context.Context) (map[string]Record, error)
}

// Selector is implemented by registries that can resolve the documents of a
// subset of nodes without reading the rest.
type Selector interface {
	SelectNodes(ctx context.Context, keep func(name string) bool) (map[string]Record, error)
}

// Lookup returns the records of the nodes for which keep reports true.
// Names the registry does not know are absent from the result.
func Lookup(ctx context.Context, c Client, keep func(name string) bool) (map[string]Record, error) {
	if s, ok := c.(Selector); ok {
		return s.SelectNodes(ctx, keep)
	}
	nodes, err := c.ListNodes(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Record)
	for name, rec := range nodes {
		if keep(name) {
			out[name] = rec
		}
	}
	return out, nil
}

// Record is a node entry as stored in the registry. Document is the full node
// document and is never modified by metalctl.
type Record struct {
	Name     string
	Document map[string]any
}

// ProvisionerOutput returns normal.provisioner_output.
func (r Record) ProvisionerOutput() (map[string]any, error) {
	normal, ok := r.Document["normal"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("node %q: missing normal attributes: %w", r.Name, ErrMalformedRecord)
	}
	output, ok := normal["provisioner_output"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("node %q: missing normal.provisioner_output: %w", r.Name, ErrMalformedRecord)
	}
	return output, nil
}

// ProvisionerURL returns normal.provisioner_output.provisioner_url.
func (r Record) ProvisionerURL() (string, error) {
	output, err := r.ProvisionerOutput()
	if err != nil {
		return "", err
	}
	url, ok := output["provisioner_url"].(string)
	if !ok || url == "" {
		return "", fmt.Errorf("node %q: missing normal.provisioner_output.provisioner_url: %w", r.Name, ErrMalformedRecord)
	}
	return url, nil
}

// OutputString returns a string field of the provisioner output, or "" when
// the field or the output block is absent.
func (r Record) OutputString(key string) string {
	output, err := r.ProvisionerOutput()
	if err != nil {
		return ""
	}
	v, _ := output[key].(string)
	return v
}

// NewRecord builds a record the way provisioners write them, with the
// provisioner URL and any extra output fields under normal.provisioner_output.
func NewRecord(name, provisionerURL string, extra map[string]string) Record {
	output := map[string]any{"provisioner_url": provisionerURL}
	for k, v := range extra {
		output[k] = v
	}
	return Record{
		Name: name,
		Document: map[string]any{
			"name":   name,
			"normal": map[string]any{"provisioner_output": output},
		},
	}
}
