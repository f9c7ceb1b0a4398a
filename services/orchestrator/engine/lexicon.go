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
	"strings"
	"unicode"
)

// Lexicons are bilingual (English and Vietnamese) because the assistant
// serves Vietnamese-speaking users of the eye-health monitor.

// smallTalkLexicon holds greetings, thanks, farewells and identity questions.
var smallTalkLexicon = []string{
	"hi", "hello", "hey", "yo", "good morning", "good evening",
	"thank", "thanks", "thank you", "cheers",
	"bye", "goodbye", "see you",
	"you there", "who are you", "how are you",
	"chào", "xin chào", "cảm ơn", "tạm biệt",
	"bạn là ai", "khỏe không", "bạn khỏe",
}

// tabularLexicon matches requests about the user's own recorded sessions.
var tabularLexicon = []string{
	"log", "logs", "session", "sessions", "summary", "csv",
	"statistics", "stats", "my data", "my sessions", "how many times",
	"duration", "avg", "average", "mean", "count", "total",
	"thống kê", "phiên đo", "thời lượng", "dữ liệu", "bao nhiêu lần",
	"trung bình", "tổng", "số lượng", "phân tích",
}

// semanticLexicon matches requests about general eye-health knowledge.
var semanticLexicon = []string{
	"symptom", "symptoms", "cause", "causes", "treatment", "treat",
	"prevent", "prevention", "syndrome", "eye strain", "dry eye",
	"what is", "what are", "explain", "why", "how to", "how do",
	"cvs", "computer vision syndrome", "vision", "eye", "eyes",
	"doctor", "professor", "expert", "researcher", "who is",
	"bệnh", "triệu chứng", "dấu hiệu", "nguyên nhân", "điều trị",
	"hội chứng", "mỏi mắt", "đau", "nhức", "là gì", "giải thích",
	"phòng ngừa", "cách", "làm sao", "như thế nào", "tại sao",
	"mắt", "thị lực", "bác sĩ", "tiến sĩ", "ts.bs", "giáo sư",
	"chuyên gia", "là ai", "ai là", "tiểu sử", "nói gì",
}

// lexicon matches whole words and whole-word phrases.
type lexicon struct {
	words   map[string]struct{}
	phrases []string
}

func newLexicon(entries []string) *lexicon {
	l := &lexicon{words: make(map[string]struct{})}
	for _, e := range entries {
		norm := strings.Join(tokenize(e), " ")
		if norm == "" {
			continue
		}
		if strings.Contains(norm, " ") {
			l.phrases = append(l.phrases, " "+norm+" ")
			continue
		}
		l.words[norm] = struct{}{}
	}
	return l
}

// matches reports whether text contains any entry on word boundaries.
func (l *lexicon) matches(text string) bool {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return false
	}
	for _, t := range tokens {
		if _, ok := l.words[t]; ok {
			return true
		}
	}
	padded := " " + strings.Join(tokens, " ") + " "
	for _, p := range l.phrases {
		if strings.Contains(padded, p) {
			return true
		}
	}
	return false
}

// tokenize lowercases text and splits it on anything that is not a letter,
// digit or an in-word dot (so "ts.bs" survives).
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '.' && !unicode.Is(unicode.Mn, r)
	})
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, ".")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

var (
	smallTalkWords = newLexicon(smallTalkLexicon)
	tabularWords   = newLexicon(tabularLexicon)
	semanticWords  = newLexicon(semanticLexicon)
)
