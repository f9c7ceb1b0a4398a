// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"fmt"
	"strings"
)

// InsufficientInformationAnswer is returned when retrieval produced no
// usable evidence.
const InsufficientInformationAnswer = "Sorry, I don't have enough reliable information to answer this question. " +
	"Could you provide more specific data or ask a different question?"

// FailureAnswer is returned to the caller when a turn aborts.
const FailureAnswer = "Sorry, something went wrong while answering your question. Please try again in a moment."

const smallTalkPrompt = `You are a friendly eye-health assistant. Reply briefly and politely to the
user's greeting or pleasantry. Do not give medical advice in this reply.

CONVERSATION:
%s

ASSISTANT:`

const contextualizePrompt = `Rewrite the LATEST question so it can be understood without the conversation.
Resolve pronouns and omitted subjects using the conversation. Rewrite only the
latest question; do not merge it with earlier questions and do not answer it.
Return exactly one question on a single line.

CONVERSATION:
%s

LATEST QUESTION: %s

STANDALONE QUESTION:`

const groundedAnswerPrompt = `You are an eye-health assistant. Answer the question using only the context.
If the context does not contain the answer, say so.

CONTEXT:
%s

QUESTION:
%s`

const directAnswerPrompt = `You are an eye-health assistant. Answer the question concisely. If you are
not sure, say so and suggest consulting an eye-care professional.

QUESTION:
%s`

const rewritePrompt = `The answer below did not adequately answer the question. Write a clearer,
more specific version of the question that is more likely to retrieve useful
information. Return only the rewritten question on a single line.

QUESTION: %s

INADEQUATE ANSWER: %s

REWRITTEN QUESTION:`

// formatHistory renders the last window messages as "ROLE: content" lines.
func formatHistory(history []Message, window int) string {
	start := 0
	if window > 0 && len(history) > window {
		start = len(history) - window
	}
	var b strings.Builder
	for i, m := range history[start:] {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s: %s", strings.ToUpper(string(m.Role)), m.Content)
	}
	return b.String()
}
