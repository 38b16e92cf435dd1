package graph

import (
	"context"

	"github.com/avolkov/webvoyager/internal/browser"
	"github.com/avolkov/webvoyager/internal/llm"
	"github.com/avolkov/webvoyager/internal/session"
)

// Factory produces the page and decision stream a new session owns.
type Factory struct {
	Browsers *browser.Manager
	Oracle   llm.Oracle
}

var _ session.Factory = (*Factory)(nil)

// NewResources creates a fresh page and binds a decision stream to it.
func (f *Factory) NewResources(_ context.Context) (session.Page, session.DecisionStream, error) {
	page, err := f.Browsers.NewPage()
	if err != nil {
		return nil, nil, err
	}
	return page, New(page, f.Oracle), nil
}
