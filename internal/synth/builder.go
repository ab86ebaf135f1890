// Copyright 2024 Call Insights Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package synth

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/sashabaranov/go-openai"

	"github.com/your-org/call-insights/internal/classifier"
)

// TruncationMarker is appended when the context is cut to the token budget
const TruncationMarker = "[data truncated]"

// CharsPerToken is the calibration constant behind EstimateTokens
const CharsPerToken = 4

// EstimateTokens provides a rough estimate of token count (4 characters ≈ 1 token)
func EstimateTokens(text string) int {
	return utf8.RuneCountInString(text) / CharsPerToken
}

// TruncateToTokenLimit cuts text to exactly maxTokens*4 characters and appends
// TruncationMarker when it is longer than that. The cut ignores section and
// record boundaries. The bool reports whether truncation happened.
func TruncateToTokenLimit(text string, maxTokens int) (string, bool) {
	if maxTokens <= 0 {
		return text, false
	}
	limit := maxTokens * CharsPerToken
	if utf8.RuneCountInString(text) <= limit {
		return text, false
	}
	runes := []rune(text)
	return string(runes[:limit]) + TruncationMarker, true
}

// BuildMessages wraps an assembled context into the system and user messages
// sent to the completion service
func BuildMessages(intent classifier.Intent, contextDoc string) []openai.ChatCompletionMessage {
	var user strings.Builder
	user.WriteString(fmt.Sprintf("Question: %s\n\n", intent.Question))
	user.WriteString("--- Call Data ---\n")
	user.WriteString(contextDoc)
	user.WriteString("\n\n")
	user.WriteString(intentGuidance(intent))

	return []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: user.String()},
	}
}

const systemPrompt = `You are a call center analytics assistant. You answer questions about call records using only the data provided with the question.

Guidelines:
- Quote counts and percentages exactly as they appear in the data
- Say so plainly when the data does not answer the question
- Keep answers short, use bullet points for breakdowns
- Refer to calls by their id when citing examples
- If the data ends with ` + TruncationMarker + `, mention that the answer is based on partial data`

func intentGuidance(intent classifier.Intent) string {
	if intent.IsKeywordSearch {
		return "This is a transcript search. Report how many calls mention the terms, give both percentages " +
			"(of all calls and of calls with transcripts), and summarise what the matching snippets show."
	}

	switch intent.Type {
	case classifier.IntentDisposition:
		return "Focus on call outcomes and how they are distributed."
	case classifier.IntentSentiment:
		return "Focus on customer sentiment and what drives positive or negative calls."
	case classifier.IntentAgentPerformance:
		return "Compare agents on volume, handling time and outcomes. Avoid ranking on a single metric."
	case classifier.IntentTiming:
		return "Focus on durations, hold and wait times, and when calls happen."
	case classifier.IntentQueueAnalysis:
		return "Compare queues on volume, waiting time and outcomes."
	case classifier.IntentTrends:
		return "Describe how volume and outcomes change over the days covered."
	case classifier.IntentDomainFilteredSearch:
		return "The data is restricted to the calls matching the named filter. Answer for that subset only."
	default:
		return "Give a concise overview that answers the question."
	}
}
