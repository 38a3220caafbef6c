package mcpservice

import (
	"context"
	"errors"
	"testing"

	"github.com/mathpro-app/mathpro-mcp/mcp"
)

func TestResourcesContainer(t *testing.T) {
	const uri = "ui://widget/test.html"
	c := NewResourcesContainer(StaticResource{
		Descriptor: mcp.Resource{URI: uri, Name: "test", MimeType: "text/html"},
		Contents:   []mcp.ResourceContents{{URI: uri, MimeType: "text/html", Text: "<p>hi</p>"}},
	})

	page, err := c.ListResources(context.Background(), nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].URI != uri {
		t.Fatalf("unexpected resources: %+v", page.Items)
	}

	got, err := c.ReadResource(context.Background(), uri)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 1 || got[0].Text != "<p>hi</p>" {
		t.Fatalf("unexpected contents: %+v", got)
	}

	got[0].Text = "mutated"
	again, _ := c.ReadResource(context.Background(), uri)
	if again[0].Text != "<p>hi</p>" {
		t.Fatalf("container contents were mutated through a read result")
	}

	if _, err := c.ReadResource(context.Background(), "ui://widget/missing.html"); !errors.Is(err, ErrResourceNotFound) {
		t.Fatalf("expected ErrResourceNotFound, got %v", err)
	}

	tpls, err := c.ListResourceTemplates(context.Background(), nil)
	if err != nil || len(tpls.Items) != 0 || tpls.Items == nil {
		t.Fatalf("expected empty non-nil templates, got %+v err=%v", tpls, err)
	}
}
