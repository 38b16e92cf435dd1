package graph

import (
	"fmt"
	"strings"

	"github.com/avolkov/webvoyager/internal/browser"
)

const systemPrompt = `Imagine you are a robot browsing the web, just like humans. Now you need to complete a task. In each iteration, you will receive an observation that includes a screenshot of a webpage and some texts. This screenshot will feature numerical labels placed in the top left corner of each web element. Carefully analyze the visual information to identify the numerical label corresponding to the web element that requires interaction, then follow the guidelines and choose one of the following actions:

1. Click a web element.
2. Delete existing content in a textbox and then type content.
3. Scroll up or down.
4. Wait.
5. Go back to the previous page.
6. Return to the search engine to start over.
7. Answer with the final result once the task is complete.

Correspondingly, your action must strictly follow one of these formats:

Click [Numerical_Label]
Type [Numerical_Label]; [Content]
Scroll [Numerical_Label or WINDOW]; [up or down]
Wait
GoBack
Search
ANSWER; [Content]

Key guidelines you MUST follow:
* The action must always end in the formats above; do not add extra text after the action.
* Only interact with elements that carry a numerical label.
* Issue exactly one action per iteration.
* When the task is fully answered by what you can see, use ANSWER.

Your reply must strictly follow the format:

Thought: {Your brief thoughts}
Action: {One action in the formats above}`

// formatDescriptions renders the annotated bounding boxes as numbered text
// labels, one per line.
func formatDescriptions(boxes []browser.BBox) string {
	labels := make([]string, 0, len(boxes))
	for i, box := range boxes {
		text := strings.TrimSpace(box.AriaLabel)
		if text == "" {
			text = box.Text
		}
		labels = append(labels, fmt.Sprintf("%d (<%s/>): %q", i, box.Type, text))
	}
	return "Valid Bounding Boxes:\n" + strings.Join(labels, "\n")
}

// userPrompt assembles the per-step user message from the task, the page
// annotation, the turn history, and an optional parse diagnostic from the
// previous step.
func userPrompt(question, descriptions, scratchpad, retryDiag string) string {
	var b strings.Builder
	b.WriteString("Task: ")
	b.WriteString(question)
	b.WriteString("\n\n")
	b.WriteString(descriptions)
	if scratchpad != "" {
		b.WriteString("\n\n")
		b.WriteString(scratchpad)
	}
	if retryDiag != "" {
		b.WriteString("\n\nYour previous reply was rejected: ")
		b.WriteString(retryDiag)
		b.WriteString("\nReply again using the required format.")
	}
	return b.String()
}
