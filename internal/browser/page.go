package browser

import (
	"context"
	_ "embed"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"
)

//go:embed mark_page.js
var markPageScript string

// ErrBadLabel means a tool argument did not resolve to an annotated element.
// The oracle picks labels and can pick wrong ones, so callers treat this as a
// correctable condition rather than a driver failure.
var ErrBadLabel = errors.New("bad bounding box label")

const (
	markRetryAttempts = 10
	markRetryDelay    = 3 * time.Second
)

// BBox is one numbered interactive element reported by the annotation script.
type BBox struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Text      string  `json:"text"`
	Type      string  `json:"type"`
	AriaLabel string  `json:"ariaLabel"`
}

// Annotation is the visual state handed to the oracle for one step.
type Annotation struct {
	BBoxes        []BBox
	ScreenshotB64 string
}

// Page is one session's exclusive browsing context. It is not safe for
// concurrent use; the query loop is its only driver while a query runs.
type Page struct {
	bctx      playwright.BrowserContext
	page      playwright.Page
	searchURL string
	bboxes    []BBox // last annotation, used to resolve numbered labels
}

// URL returns the current page URL.
func (p *Page) URL() string {
	return p.page.URL()
}

// Release closes the page and its browser context.
func (p *Page) Release(_ context.Context) error {
	if err := p.page.Close(); err != nil {
		return fmt.Errorf("close page: %w", err)
	}
	if err := p.bctx.Close(); err != nil {
		return fmt.Errorf("close browser context: %w", err)
	}
	return nil
}

// Annotate overlays numbered bounding boxes on the page's interactive
// elements, captures a screenshot, and removes the overlay. Pages that are
// mid-navigation make the overlay script flaky, so the collection call is
// retried a few times before giving up.
func (p *Page) Annotate(ctx context.Context) (Annotation, error) {
	if _, err := p.page.Evaluate(markPageScript); err != nil {
		return Annotation{}, fmt.Errorf("inject annotation script: %w", err)
	}

	raw, err := p.evaluateMarksWithRetry(ctx)
	if err != nil {
		return Annotation{}, err
	}

	boxes, err := decodeBBoxes(raw)
	if err != nil {
		return Annotation{}, err
	}

	shot, err := p.page.Screenshot()
	if err != nil {
		return Annotation{}, fmt.Errorf("screenshot: %w", err)
	}

	if _, err := p.page.Evaluate("unmarkPage()"); err != nil {
		return Annotation{}, fmt.Errorf("remove annotation overlay: %w", err)
	}

	p.bboxes = boxes
	return Annotation{
		BBoxes:        boxes,
		ScreenshotB64: base64.StdEncoding.EncodeToString(shot),
	}, nil
}

func (p *Page) evaluateMarksWithRetry(ctx context.Context) (interface{}, error) {
	var lastErr error
	for attempt := 0; attempt < markRetryAttempts; attempt++ {
		raw, err := p.page.Evaluate("markPage()")
		if err == nil {
			return raw, nil
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(markRetryDelay):
		}
	}
	return nil, fmt.Errorf("mark page after %d attempts: %w", markRetryAttempts, lastErr)
}

// decodeBBoxes converts the Evaluate result (a JS array of plain objects)
// into typed bounding boxes.
func decodeBBoxes(raw interface{}) ([]BBox, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode annotation result: %w", err)
	}
	var boxes []BBox
	if err := json.Unmarshal(data, &boxes); err != nil {
		return nil, fmt.Errorf("decode bounding boxes: %w", err)
	}
	return boxes, nil
}

// bbox resolves a numbered label from the last annotation.
func (p *Page) bbox(label int) (BBox, error) {
	if label < 0 || label >= len(p.bboxes) {
		return BBox{}, fmt.Errorf("%w: no element numbered %d", ErrBadLabel, label)
	}
	return p.bboxes[label], nil
}
