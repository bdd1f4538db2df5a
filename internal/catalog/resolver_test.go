package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

type stubCatalog struct {
	countingCatalog
	readResult json.RawMessage
	readErr    error
	lastParams json.RawMessage
}

func (s *stubCatalog) ReadResource(_ context.Context, params json.RawMessage) (json.RawMessage, error) {
	s.lastParams = params
	if s.readErr != nil {
		return nil, s.readErr
	}
	return s.readResult, nil
}

func TestResolverMapsFirstContentEntry(t *testing.T) {
	s := &stubCatalog{readResult: json.RawMessage(`{"contents":[{"uri":"ui://a","mimeType":"text/html","text":"<p/>"}]}`)}
	res, err := Resolver{Catalog: s}.ReadResource(context.Background(), "ui://a")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.URI != "ui://a" || res.MIMEType != "text/html" || res.Text != "<p/>" {
		t.Fatalf("resource mismatch: %+v", res)
	}
	var p struct {
		URI string `json:"uri"`
	}
	if err := json.Unmarshal(s.lastParams, &p); err != nil || p.URI != "ui://a" {
		t.Fatalf("read params wrong: %s", s.lastParams)
	}
}

func TestResolverRejectsEmptyContents(t *testing.T) {
	s := &stubCatalog{readResult: json.RawMessage(`{"contents":[]}`)}
	if _, err := (Resolver{Catalog: s}).ReadResource(context.Background(), "ui://a"); err == nil {
		t.Fatal("expected rejection of empty contents")
	}
}

func TestResolverPropagatesUpstreamFailure(t *testing.T) {
	s := &stubCatalog{readErr: errors.New("upstream down")}
	if _, err := (Resolver{Catalog: s}).ReadResource(context.Background(), "ui://a"); err == nil {
		t.Fatal("expected upstream failure")
	}
}

func TestResolverValidatesResourceShape(t *testing.T) {
	// text and blob together violate the one-of invariant
	s := &stubCatalog{readResult: json.RawMessage(`{"contents":[{"uri":"ui://a","mimeType":"text/html","text":"a","blob":"YQ=="}]}`)}
	if _, err := (Resolver{Catalog: s}).ReadResource(context.Background(), "ui://a"); err == nil {
		t.Fatal("expected validation failure")
	}
}
