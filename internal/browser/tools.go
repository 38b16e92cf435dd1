package browser

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
)

const (
	windowScrollPixels  = 500
	elementScrollPixels = 200
	waitDuration        = 5 * time.Second
)

// Click clicks the element behind a numbered bounding box.
func (p *Page) Click(label string) (string, error) {
	box, err := p.labeledBox(label)
	if err != nil {
		return "", err
	}
	if err := p.page.Mouse().Click(box.X, box.Y); err != nil {
		return "", fmt.Errorf("click %s: %w", label, err)
	}
	return fmt.Sprintf("Clicked %s", label), nil
}

// Type clicks a numbered input, replaces its content with text, and submits
// with Enter.
func (p *Page) Type(label, text string) (string, error) {
	box, err := p.labeledBox(label)
	if err != nil {
		return "", err
	}
	if err := p.page.Mouse().Click(box.X, box.Y); err != nil {
		return "", fmt.Errorf("focus %s: %w", label, err)
	}
	if err := p.page.Keyboard().Press("Control+A"); err != nil {
		return "", fmt.Errorf("select existing text: %w", err)
	}
	if err := p.page.Keyboard().Press("Backspace"); err != nil {
		return "", fmt.Errorf("clear existing text: %w", err)
	}
	if err := p.page.Keyboard().Type(text); err != nil {
		return "", fmt.Errorf("type into %s: %w", label, err)
	}
	if err := p.page.Keyboard().Press("Enter"); err != nil {
		return "", fmt.Errorf("submit %s: %w", label, err)
	}
	return fmt.Sprintf("Typed %q and submitted", text), nil
}

// Scroll scrolls the whole window or a numbered element's container.
// target is either "WINDOW" or a bounding box label; direction is "up" or
// "down".
func (p *Page) Scroll(target, direction string) (string, error) {
	down := strings.EqualFold(strings.TrimSpace(direction), "down")

	if strings.EqualFold(strings.TrimSpace(target), "WINDOW") {
		delta := windowScrollPixels
		if !down {
			delta = -delta
		}
		if _, err := p.page.Evaluate(fmt.Sprintf("window.scrollBy(0, %d)", delta)); err != nil {
			return "", fmt.Errorf("scroll window: %w", err)
		}
		return fmt.Sprintf("Scrolled window %s", direction), nil
	}

	box, err := p.labeledBox(target)
	if err != nil {
		return "", err
	}
	delta := float64(elementScrollPixels)
	if !down {
		delta = -delta
	}
	if err := p.page.Mouse().Move(box.X, box.Y); err != nil {
		return "", fmt.Errorf("move to %s: %w", target, err)
	}
	if err := p.page.Mouse().Wheel(0, delta); err != nil {
		return "", fmt.Errorf("scroll %s: %w", target, err)
	}
	return fmt.Sprintf("Scrolled %s %s", target, direction), nil
}

// Wait pauses for a fixed interval so slow pages can settle.
func (p *Page) Wait(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(waitDuration):
	}
	return fmt.Sprintf("Waited %s", waitDuration), nil
}

// GoBack navigates one entry back in the page history.
func (p *Page) GoBack() (string, error) {
	if _, err := p.page.GoBack(); err != nil {
		return "", fmt.Errorf("go back: %w", err)
	}
	return fmt.Sprintf("Navigated back to %s", p.page.URL()), nil
}

// Search navigates to the configured search engine.
func (p *Page) Search() (string, error) {
	if _, err := p.page.Goto(p.searchURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}); err != nil {
		return "", fmt.Errorf("navigate to search engine: %w", err)
	}
	return fmt.Sprintf("Navigated to %s", p.searchURL), nil
}

// labeledBox parses a numeric label argument and resolves its bounding box.
func (p *Page) labeledBox(label string) (BBox, error) {
	n, err := strconv.Atoi(strings.TrimSpace(label))
	if err != nil {
		return BBox{}, fmt.Errorf("%w: %q is not a number", ErrBadLabel, label)
	}
	return p.bbox(n)
}
