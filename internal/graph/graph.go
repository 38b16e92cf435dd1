// Package graph implements the per-session decision stream: one Step
// annotates the page, prompts the oracle, parses the prediction, and drives
// the browser tool it names. It plays the role of the agent graph the engine
// treats as opaque.
package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/avolkov/webvoyager/internal/agent"
	"github.com/avolkov/webvoyager/internal/browser"
	"github.com/avolkov/webvoyager/internal/llm"
	"github.com/avolkov/webvoyager/internal/session"
)

// Graph node names reported on step events. Only agentNode events may carry a
// prediction; the rest are bookkeeping the engine skips.
const (
	agentNode      = "agent"
	scratchpadNode = "update_scratchpad"
)

type phase int

const (
	phaseAgent phase = iota
	phaseTool
	phaseScratchpad
)

// maxConsecutiveRetries bounds re-prompts for unparseable oracle output.
// Retries are not steps, so without this bound an oracle that never produces
// a parseable line would loop past the engine's step limit.
const maxConsecutiveRetries = 3

// PageDriver is the subset of page operations the graph drives. It is
// satisfied by *browser.Page.
type PageDriver interface {
	Annotate(ctx context.Context) (browser.Annotation, error)
	Click(label string) (string, error)
	Type(label, text string) (string, error)
	Scroll(target, direction string) (string, error)
	Wait(ctx context.Context) (string, error)
	GoBack() (string, error)
	Search() (string, error)
}

var _ PageDriver = (*browser.Page)(nil)

// Graph is one session's decision stream. It is driven by a single query
// loop at a time; Begin resets it for the next query.
type Graph struct {
	page   PageDriver
	oracle llm.Oracle

	question   string
	scratchpad string
	retryDiag  string
	retries    int
	phase      phase
	pending    agent.Decision
	obs        string
	done       bool
}

// New binds a decision stream to a page and an oracle.
func New(page PageDriver, oracle llm.Oracle) *Graph {
	return &Graph{page: page, oracle: oracle}
}

// Begin resets per-query state before a new query loop starts.
func (g *Graph) Begin(question string) {
	g.question = question
	g.scratchpad = ""
	g.retryDiag = ""
	g.retries = 0
	g.phase = phaseAgent
	g.pending = agent.Decision{}
	g.obs = ""
	g.done = false
}

// Step advances the graph by one node and returns its event. Decision is set
// only on agent-node events that carry an actionable prediction; retry
// re-prompts, tool execution, and scratchpad updates are bookkeeping events.
func (g *Graph) Step(ctx context.Context) (session.StepEvent, error) {
	if g.done {
		return session.StepEvent{}, errors.New("decision stream exhausted")
	}

	switch g.phase {
	case phaseAgent:
		return g.stepAgent(ctx)
	case phaseTool:
		return g.stepTool(ctx)
	default:
		return g.stepScratchpad()
	}
}

// Release frees oracle-side state. The page is owned and released by the
// session, not the stream.
func (g *Graph) Release(_ context.Context) error {
	return nil
}

// stepAgent annotates the page, invokes the oracle, and parses the
// prediction.
func (g *Graph) stepAgent(ctx context.Context) (session.StepEvent, error) {
	ann, err := g.page.Annotate(ctx)
	if err != nil {
		return session.StepEvent{}, fmt.Errorf("annotate page: %w", err)
	}

	raw, err := g.oracle.Predict(ctx, llm.Request{
		System:        systemPrompt,
		User:          userPrompt(g.question, formatDescriptions(ann.BBoxes), g.scratchpad, g.retryDiag),
		ScreenshotB64: ann.ScreenshotB64,
	})
	if err != nil {
		return session.StepEvent{}, fmt.Errorf("oracle prediction: %w", err)
	}

	d := agent.Parse(raw)
	switch d.Kind {
	case agent.KindRetry:
		g.retries++
		if g.retries >= maxConsecutiveRetries {
			return session.StepEvent{}, fmt.Errorf("oracle produced %d unparseable replies in a row", g.retries)
		}
		// Feed the diagnostic back into the next prompt; the engine sees
		// only a bookkeeping event.
		g.retryDiag = d.Diagnostic
		return session.StepEvent{Node: agentNode}, nil
	case agent.KindAnswer:
		g.done = true
		return session.StepEvent{Node: agentNode, Decision: &d}, nil
	default:
		g.retryDiag = ""
		g.retries = 0
		g.pending = d
		g.phase = phaseTool
		return session.StepEvent{Node: agentNode, Decision: &d}, nil
	}
}

// stepTool executes the pending tool and stores its observation.
func (g *Graph) stepTool(ctx context.Context) (session.StepEvent, error) {
	obs, err := g.execute(ctx, g.pending)
	if err != nil {
		if !errors.Is(err, browser.ErrBadLabel) {
			return session.StepEvent{}, fmt.Errorf("execute %s: %w", g.pending.Name, err)
		}
		// The oracle named an element that does not exist; let it see that
		// and correct itself on the next step.
		obs = fmt.Sprintf("Failed to execute %s: %v", g.pending.Name, err)
	}
	g.obs = obs
	g.phase = phaseScratchpad
	return session.StepEvent{Node: g.pending.Name}, nil
}

// stepScratchpad appends the observation to the turn history.
func (g *Graph) stepScratchpad() (session.StepEvent, error) {
	updated, err := agent.AppendObservation(g.scratchpad, g.obs)
	if err != nil {
		return session.StepEvent{}, err
	}
	g.scratchpad = updated
	g.phase = phaseAgent
	return session.StepEvent{Node: scratchpadNode}, nil
}

// execute dispatches one tool decision to the browser. Malformed arguments
// and unknown tool names become observations the oracle can correct on the
// next step; driver failures are stream errors.
func (g *Graph) execute(ctx context.Context, d agent.Decision) (string, error) {
	switch d.Name {
	case "Click":
		if len(d.Args) != 1 {
			return fmt.Sprintf("Failed to click: expected one bounding box label, got %v", d.Args), nil
		}
		return g.page.Click(d.Args[0])
	case "Type":
		if len(d.Args) != 2 {
			return fmt.Sprintf("Failed to type: expected a bounding box label and text, got %v", d.Args), nil
		}
		return g.page.Type(d.Args[0], d.Args[1])
	case "Scroll":
		if len(d.Args) != 2 {
			return fmt.Sprintf("Failed to scroll: expected a target and a direction, got %v", d.Args), nil
		}
		return g.page.Scroll(d.Args[0], d.Args[1])
	case "Wait":
		return g.page.Wait(ctx)
	case "GoBack":
		return g.page.GoBack()
	case "Search":
		return g.page.Search()
	default:
		return fmt.Sprintf("%s is not a valid tool, try one of Click, Type, Scroll, Wait, GoBack, Search.", d.Name), nil
	}
}
