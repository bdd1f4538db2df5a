// Package uires builds the UI payloads a host mounts into a guest surface:
// inline markup, an external URL, or a remote-DOM script, addressed by a
// ui:// URI. Construction is pure data transformation; the only failure
// modes are input validation.
package uires

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// MIME types for the supported payload flavors.
const (
	MIMEHTML      = "text/html"
	MIMEURIList   = "text/uri-list"
	MIMERemoteDOM = "application/vnd.uibridge.remote-dom"
)

// Scheme is the URI scheme all UI resources live under.
const Scheme = "ui://"

// Encoding selects how inline content travels: as plain text or as a
// base64 blob.
type Encoding int

const (
	EncodingText Encoding = iota
	EncodingBlob
)

// Resource is a mountable UI payload. Exactly one of Text and Blob is set.
type Resource struct {
	URI      string `json:"uri"`
	MIMEType string `json:"mimeType"`
	Text     string `json:"text,omitempty"`
	Blob     string `json:"blob,omitempty"`
}

// Content is the mount payload handed to a session: either a literal
// resource or a ui:// URI to resolve through the catalog.
type Content struct {
	Resource *Resource
	URI      string
}

// InlineContent wraps a literal resource.
func InlineContent(r Resource) Content { return Content{Resource: &r} }

// URIContent references a resource to resolve at mount time.
func URIContent(uri string) Content { return Content{URI: uri} }

func validateURI(uri string) error {
	if !strings.HasPrefix(uri, Scheme) {
		return fmt.Errorf("uires: uri must use %s scheme, got %q", Scheme, uri)
	}
	if len(uri) == len(Scheme) {
		return errors.New("uires: uri has empty path")
	}
	return nil
}

func build(uri, mime, payload string, enc Encoding) (Resource, error) {
	if err := validateURI(uri); err != nil {
		return Resource{}, err
	}
	if payload == "" {
		return Resource{}, errors.New("uires: empty payload")
	}
	r := Resource{URI: uri, MIMEType: mime}
	switch enc {
	case EncodingText:
		r.Text = payload
	case EncodingBlob:
		r.Blob = base64.StdEncoding.EncodeToString([]byte(payload))
	default:
		return Resource{}, fmt.Errorf("uires: unknown encoding %d", enc)
	}
	return r, nil
}

// HTML builds an inline-markup resource.
func HTML(uri, markup string, enc Encoding) (Resource, error) {
	return build(uri, MIMEHTML, markup, enc)
}

// ExternalURL builds a resource that points the guest at a remote URL.
// The URL must be absolute http(s).
func ExternalURL(uri, target string, enc Encoding) (Resource, error) {
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		return Resource{}, fmt.Errorf("uires: external url must be absolute http(s), got %q", target)
	}
	return build(uri, MIMEURIList, target, enc)
}

// RemoteDOM builds a remote-DOM script resource.
func RemoteDOM(uri, script string, enc Encoding) (Resource, error) {
	return build(uri, MIMERemoteDOM, script, enc)
}

// Payload returns the decoded content regardless of transfer encoding.
func (r Resource) Payload() ([]byte, error) {
	if r.Blob != "" {
		return base64.StdEncoding.DecodeString(r.Blob)
	}
	return []byte(r.Text), nil
}

// Validate checks structural invariants on a received resource.
func (r Resource) Validate() error {
	if err := validateURI(r.URI); err != nil {
		return err
	}
	if r.MIMEType == "" {
		return errors.New("uires: missing mime type")
	}
	if (r.Text == "") == (r.Blob == "") {
		return errors.New("uires: exactly one of text and blob must be set")
	}
	return nil
}
