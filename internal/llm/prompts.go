// File: internal/llm/prompts.go
package llm

import (
	"fmt"
	"strings"

	"github.com/nv4re/tabpilot/api/schemas"
)

// mapGrammar teaches the planner how to read the perception input. Both
// system prompts embed it, and the differ emits the same headers, so the
// wording here tracks internal/vmap.
const mapGrammar = `PAGE PERCEPTION
You receive a "=== VISUAL PAGE MAP ===" document: one summary line, then one
element per line sorted top-to-bottom, left-to-right:
  [*TAG[inputtype]] @(x,y WxH) [offscreen] sel="..." "text" [flags] options=[...]
A leading * on the tag marks the element as interactive. Flags include
[checked]/[unchecked], [draggable], [droptarget], [disabled].
Content inside iframes is appended under "=== IFRAME CONTENT (frameId=N) ===".
To act on an iframe element you MUST set "frameId": N on that action.
On later steps you may instead receive "=== PAGE UPDATE (diff) ===": unchanged
sections are summarized and previous selectors remain valid.`

// actionVocabulary enumerates the action surface for the planner.
const actionVocabulary = `ACTIONS
- {"type":"click","selector":"..."} click an element
- {"type":"type","selector":"...","text":"...","clear":true} type into a field
- {"type":"select","selector":"...","value":"..."} pick a dropdown option
- {"type":"hover","selector":"..."}
- {"type":"scroll","direction":"up|down|left|right","amount":400} or {"type":"scroll","selector":"..."}
- {"type":"extract","selector":"...","attribute":"text|html|<attr>"}
- {"type":"evaluate","expression":"..."} run JavaScript, result is returned
- {"type":"keyboard","key":"Enter"}
- {"type":"wait","selector":"...","timeout":5000} or {"type":"wait","milliseconds":1000}
- {"type":"drag","fromSelector":"...","toSelector":"..."} drag one item
- {"type":"snapshot"} re-read the page; remaining actions in the batch are skipped
- {"type":"screenshot"} capture the page as an image
- {"type":"navigate","url":"https://..."}
- {"type":"search","query":"..."} ask the search analyst
- {"type":"tab_new","url":"..."}, {"type":"tab_close"}, {"type":"tab_switch","index":0}, {"type":"tab_list"}
- {"type":"tab_group_create","tabIds":[1,2],"color":"blue","title":"..."}, {"type":"tab_group_add","groupId":5,"tabIds":[3]}, {"type":"tab_group_remove","groupId":5}
- {"type":"describe","text":"..."} narration only; never counts as progress`

// responseContract is the JSON-only output rule shared by both prompts.
const responseContract = `OUTPUT
Reply with a single JSON object and nothing else:
{"thinking":"short reasoning","actions":[...],"done":false,"summary":"...","mode":"normal|quiz"}
"actions" is required and must not be empty. Set "done":true only when the
command is fully satisfied. Set "mode":"quiz" if the page is an assessment.`

// SystemPromptNormal is the planner contract outside quiz mode.
var SystemPromptNormal = strings.Join([]string{
	`You are a browser-automation planner. Each step you see the current page
and decide the next batch of DOM actions toward the user's command. Prefer few
precise actions per step; use snapshot when you need to see the result of your
actions before continuing.`,
	mapGrammar,
	actionVocabulary,
	responseContract,
}, "\n\n")

// SystemPromptQuiz is the stricter planner contract for assessment pages.
var SystemPromptQuiz = strings.Join([]string{
	`You are a browser-automation planner working through an online assessment.
Rules for every step:
- Answer ONE item per response. Never batch multiple questions.
- Select or place the answer BEFORE clicking Next, and verify the selection in
  the map ([checked], "Currently contains") before moving on.
- Drag ONE item at a time and re-read the page after every drag; tile indexes
  shift after each placement, so never reuse a tile selector across drags.
- Iframe elements require "frameId" on the action.
- End each answering batch with {"type":"snapshot"} so you can verify.`,
	mapGrammar,
	actionVocabulary,
	responseContract,
}, "\n\n")

// SystemPrompt selects the prompt variant for a mode.
func SystemPrompt(mode schemas.AgentMode) string {
	if mode == schemas.ModeQuiz {
		return SystemPromptQuiz
	}
	return SystemPromptNormal
}

// visionAnalystPrompt asks the vision model for free-text observations a
// text-only planner can act on.
const visionAnalystPrompt = `Describe this page screenshot for a browser
agent that cannot see images. Report: the question text if any, what each
option image depicts, the labels of draggable items and drop zones, and where
notable elements sit on the page (top/middle/bottom, left/right). Plain text
only, no JSON.`

// VisionPrompt builds the handoff prompt, optionally scoped by the question.
func VisionPrompt(questionText string) string {
	if questionText == "" {
		return visionAnalystPrompt
	}
	return visionAnalystPrompt + "\n\nThe current question appears to be: " + questionText
}

// SearchPrompt builds the search analyst's request from the question and a
// slice of the page context.
func SearchPrompt(question, pageContext string) string {
	var b strings.Builder
	b.WriteString("Answer the following question accurately and concisely. ")
	b.WriteString("Use web search if available. Reply in plain text.\n\nQuestion: ")
	b.WriteString(question)
	if pageContext != "" {
		if len(pageContext) > 2000 {
			pageContext = pageContext[:2000]
		}
		b.WriteString("\n\nPage context:\n")
		b.WriteString(pageContext)
	}
	return b.String()
}

// BuildUserMessage assembles the per-step user text: the command or
// continuation, the page identity, and the map or diff, plus any injected
// analyst blocks.
func BuildUserMessage(command string, page schemas.PageContext, visionAnalysis, searchResults string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Command: %s\n", command)
	fmt.Fprintf(&b, "URL: %s\n", page.URL)
	fmt.Fprintf(&b, "Title: %s\n\n", page.Title)
	b.WriteString(page.VisualMap)
	if visionAnalysis != "" {
		b.WriteString("\n\n=== VISION ANALYSIS ===\n")
		b.WriteString(visionAnalysis)
	}
	if searchResults != "" {
		b.WriteString("\n\n=== SEARCH RESULTS ===\n")
		b.WriteString(searchResults)
	}
	return b.String()
}

// CorrectivePrompt re-asks after a reply without usable actions.
const CorrectivePrompt = `Your previous reply contained no executable actions.
Reply again with a single JSON object whose "actions" array contains at least
one concrete action (not "describe").`

// ContinuationNormal is the follow-up user preamble outside quiz mode.
const ContinuationNormal = `Continue working on the command. The page state
below reflects your previous actions. If the command is complete, reply with
done:true and a summary.`

// ContinuationQuiz is the detailed per-step rubric in quiz mode.
const ContinuationQuiz = `Continue the assessment. Work through exactly one
item now:
1. In "thinking", state the current question and the answer you chose and why.
2. Emit the actions that select or place that answer (with frameId for iframe
   elements), verify it, then click Next ONLY if the answer is confirmed.
3. For drag questions: one drag action, then snapshot. Never two drags in one
   batch.
4. Finish the batch with a snapshot so the next step can verify.`
