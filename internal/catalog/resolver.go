package catalog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/surfacekit/uibridge/internal/uires"
)

// Resolver adapts a Catalog to the bridge's content-resolution interface:
// given a ui:// URI it issues one resources/read call and maps the first
// returned content entry onto a UI resource.
type Resolver struct {
	Catalog Catalog
}

type readParams struct {
	URI string `json:"uri"`
}

type readResult struct {
	Contents []struct {
		URI      string `json:"uri"`
		MIMEType string `json:"mimeType"`
		Text     string `json:"text,omitempty"`
		Blob     string `json:"blob,omitempty"`
	} `json:"contents"`
}

func (r Resolver) ReadResource(ctx context.Context, uri string) (uires.Resource, error) {
	params, err := json.Marshal(readParams{URI: uri})
	if err != nil {
		return uires.Resource{}, err
	}
	raw, err := r.Catalog.ReadResource(ctx, params)
	if err != nil {
		return uires.Resource{}, err
	}
	var res readResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return uires.Resource{}, fmt.Errorf("catalog: malformed read result: %w", err)
	}
	if len(res.Contents) == 0 {
		return uires.Resource{}, fmt.Errorf("catalog: resource %s has no contents", uri)
	}
	c := res.Contents[0]
	out := uires.Resource{URI: c.URI, MIMEType: c.MIMEType, Text: c.Text, Blob: c.Blob}
	if out.URI == "" {
		out.URI = uri
	}
	if err := out.Validate(); err != nil {
		return uires.Resource{}, err
	}
	return out, nil
}
