// Package imagegen performs the billable image operations: it authenticates
// the caller's identity, gates generation and editing on the account's
// monthly quota, invokes the external image provider, and records history
// and usage afterwards.
package imagegen

import (
	"context"
)

// GenerateRequest describes a text-to-image request.
type GenerateRequest struct {
	Prompt  string
	Model   string
	Size    string
	Quality string
	Style   string
}

// EditRequest describes an image edit request.
type EditRequest struct {
	Prompt    string
	Model     string
	Size      string
	Image     []byte // source image, PNG
	ImageName string
}

// Image is the provider's result; the URL points at provider-hosted output.
type Image struct {
	URL   string
	Model string
}

// Provider is the opaque external image API. Implementations must bound
// every call with a timeout and surface failures verbatim; this subsystem
// never retries them.
type Provider interface {
	Generate(ctx context.Context, req GenerateRequest) (Image, error)
	Edit(ctx context.Context, req EditRequest) (Image, error)
}
