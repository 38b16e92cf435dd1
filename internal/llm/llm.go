// Package llm provides the oracle client that produces one raw action
// prediction per step of the browsing loop.
package llm

import "context"

// Request is one oracle invocation. ScreenshotB64 optionally carries the
// annotated page screenshot as base64-encoded PNG.
type Request struct {
	System        string
	User          string
	ScreenshotB64 string
}

// Oracle produces a raw text prediction for one step, given the current page
// annotation and turn history rendered into the request.
type Oracle interface {
	Predict(ctx context.Context, req Request) (string, error)
}
