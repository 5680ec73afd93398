package ai

import (
	"fmt"
	"strings"
)

// MaxPostChars bounds how much of a post is sent upstream.
const MaxPostChars = 2000

const systemPrompt = `You analyze social media posts for political slant and argumentative quality. Return only JSON.`

const instructions = `Rules:
- Place the post in a three-axis ideology space. Each axis is a number in [-1, 1]:
  social (-1 progressive .. 1 conservative), economic (-1 left .. 1 right),
  populist (-1 institutionalist .. 1 populist).
- List the logical fallacies the post commits by their common English name
  (e.g. "Strawman", "Ad Hominem", "Red Herring", "Slippery Slope", "False Dilemma").
  Use an empty list when there are none.
- topic is a short lowercase label such as "immigration" or "taxation".
- confidence is a number in [0, 1] for how sure you are about the placement.
- counterArgument: the strongest short reply a thoughtful opponent would give.
- mechanism: one sentence on how the rhetoric works on the reader.
- dataCheck: one sentence on what the evidence actually says, or "" if unknown.
- challengeQuestion: one question that would make the author reconsider.
- Output JSON only, with this schema:
  {"vector":{"social":0,"economic":0,"populist":0},"fallacies":["..."],"topic":"...","confidence":0.0,"counterArgument":"...","mechanism":"...","dataCheck":"...","challengeQuestion":"..."}`

type example struct {
	post   string
	output string
}

var fewShot = []example{
	{
		post:   "Anyone who wants to raise the minimum wage obviously wants small businesses to die. Typical socialists.",
		output: `{"vector":{"social":0.2,"economic":0.7,"populist":0.3},"fallacies":["Strawman","Ad Hominem"],"topic":"minimum wage","confidence":0.8,"counterArgument":"Many supporters propose phased increases with small-business exemptions.","mechanism":"It assigns an extreme motive to opponents and then attacks the label instead of the policy.","dataCheck":"Studies of moderate increases find small or mixed employment effects.","challengeQuestion":"What increase, if any, would you consider reasonable?"}`,
	},
	{
		post:   "The city council approved the new bus routes after three public hearings. Service starts in May.",
		output: `{"vector":{"social":0,"economic":0,"populist":0},"fallacies":[],"topic":"public transit","confidence":0.6,"counterArgument":"","mechanism":"","dataCheck":"","challengeQuestion":""}`,
	},
	{
		post:   "If we let them ban gas stoves today, tomorrow they'll ban cars and then your right to leave your house.",
		output: `{"vector":{"social":0.5,"economic":0.6,"populist":0.8},"fallacies":["Slippery Slope","Appeal to Fear"],"topic":"energy regulation","confidence":0.75,"counterArgument":"Appliance standards have existed for decades without leading to travel restrictions.","mechanism":"It chains unlikely escalations to make a narrow rule feel like a threat to freedom.","dataCheck":"Proposed rules target emissions of new appliances, not existing ones.","challengeQuestion":"Which step in that chain do you think is most likely, and why?"}`,
	},
}

// BuildPrompt returns the system and user prompts for one post.
func BuildPrompt(text string) (string, string) {
	var sb strings.Builder
	sb.WriteString(instructions)
	sb.WriteString("\n\nExamples:\n")
	for i, ex := range fewShot {
		sb.WriteString(fmt.Sprintf("\nPost %d:\n%s\nOutput:\n%s\n", i+1, ex.post, ex.output))
	}
	sb.WriteString("\nNow analyze this post:\n")
	sb.WriteString(truncatePost(text, MaxPostChars))
	sb.WriteString("\nOutput:\n")

	return systemPrompt, sb.String()
}

func truncatePost(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) > maxChars {
		return string(runes[:maxChars])
	}
	return s
}
