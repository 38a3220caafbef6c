package mcpservice

import (
	"context"
	"fmt"

	"github.com/mathpro-app/mathpro-mcp/mcp"
)

// StaticResource pairs a resource descriptor with the contents returned when
// it is read.
type StaticResource struct {
	Descriptor mcp.Resource
	Contents   []mcp.ResourceContents
}

// ResourcesContainer is an immutable set of resources and their contents.
// Inputs are copied at construction so callers may keep ownership of them.
type ResourcesContainer struct {
	resources []mcp.Resource
	contents  map[string][]mcp.ResourceContents
	pageSize  int
}

// NewResourcesContainer builds a container from defs. On duplicate URIs the
// last definition wins.
func NewResourcesContainer(defs ...StaticResource) *ResourcesContainer {
	sr := &ResourcesContainer{
		contents: make(map[string][]mcp.ResourceContents, len(defs)),
		pageSize: 50,
	}
	index := make(map[string]int, len(defs))
	for _, d := range defs {
		uri := d.Descriptor.URI
		if i, dup := index[uri]; dup {
			sr.resources[i] = d.Descriptor
		} else {
			index[uri] = len(sr.resources)
			sr.resources = append(sr.resources, d.Descriptor)
		}
		sr.contents[uri] = append([]mcp.ResourceContents(nil), d.Contents...)
	}
	return sr
}

// HasResource reports whether uri is registered.
func (sr *ResourcesContainer) HasResource(uri string) bool {
	_, ok := sr.contents[uri]
	return ok
}

// ListResources implements ResourcesCapability.
func (sr *ResourcesContainer) ListResources(ctx context.Context, cursor *string) (Page[mcp.Resource], error) {
	return pageSlice(sr.resources, sr.pageSize, cursor), nil
}

// ListResourceTemplates implements ResourcesCapability. Static containers
// never carry templates.
func (sr *ResourcesContainer) ListResourceTemplates(ctx context.Context, cursor *string) (Page[mcp.ResourceTemplate], error) {
	return NewPage[mcp.ResourceTemplate](nil), nil
}

// ReadResource implements ResourcesCapability. The returned slice is a copy.
func (sr *ResourcesContainer) ReadResource(ctx context.Context, uri string) ([]mcp.ResourceContents, error) {
	c, ok := sr.contents[uri]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrResourceNotFound, uri)
	}
	out := make([]mcp.ResourceContents, len(c))
	copy(out, c)
	return out, nil
}
