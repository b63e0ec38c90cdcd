// Package classify implements a deterministic, keyword-based semantic
// theme classifier. It has no ML dependency and no external state: the
// same content always maps to the same theme.
package classify

import (
	"regexp"
	"strings"
)

// themeKeywords lists, in evaluation order, the keyword group for each
// theme. The first group whose content matches wins; "general" carries no
// keyword group and is only ever reached as the fallback. Order matters:
// groups are non-overlapping by convention (a term belongs to exactly one
// group), evaluated top to bottom.
var themeKeywords = []struct {
	theme    string
	keywords []string
}{
	{
		theme: "technical",
		keywords: []string{
			"bug", "code", "function", "api", "database", "deploy", "deployment",
			"server", "compile", "refactor", "debug", "error", "exception",
			"build", "test", "repository", "commit", "pull request",
			"algorithm", "architecture", "schema", "query", "endpoint",
		},
	},
	{
		theme: "memory",
		keywords: []string{
			"remember", "recall", "forgot", "forget", "memory", "memories",
			"reminisce", "nostalgia", "recollect",
		},
	},
	{
		theme: "project",
		keywords: []string{
			"shipping", "shipped", "milestone", "deadline", "sprint", "roadmap",
			"launch", "release", "deliverable", "backlog", "task", "project",
			"scope", "requirement",
		},
	},
	{
		theme: "strategic",
		keywords: []string{
			"strategy", "strategic", "vision", "direction", "priority",
			"roadmap planning", "long-term", "goal", "objective", "plan ahead",
		},
	},
	{
		theme: "consciousness",
		keywords: []string{
			"conscious", "consciousness", "awareness", "self-aware", "sentience",
			"introspection", "mindful",
		},
	},
	{
		theme: "partnership",
		keywords: []string{
			"partner", "partnership", "collaboration", "collaborate", "together",
			"teamwork", "alliance", "trust", "relationship",
		},
	},
	{
		theme: "temporal",
		keywords: []string{
			"yesterday", "tomorrow", "today", "schedule", "calendar", "timeline",
			"duration", "before", "after", "meanwhile", "timestamp",
		},
	},
	{
		theme: "emotional",
		keywords: []string{
			"happy", "sad", "excited", "frustrated", "anxious", "proud", "grateful",
			"worried", "joy", "fear", "love", "angry", "emotion", "feeling",
		},
	},
}

// Classify maps free-text content to one of the nine canonical themes.
// The content is lowercased before matching, and a keyword matches only
// as a whole word or phrase ("build" does not match "building");
// "general" is the fallback when no keyword group matches. Classify never
// hard-codes "general" except as that last-resort fallback.
func Classify(content string) string {
	lower := strings.ToLower(content)
	for _, group := range themeKeywords {
		for _, kw := range group.keywords {
			if containsWord(lower, kw) {
				return group.theme
			}
		}
	}
	return "general"
}

// containsWord reports whether kw occurs in s with no letter, digit or
// underscore directly before or after it.
func containsWord(s, kw string) bool {
	return regexp.MustCompile(`\b` + regexp.QuoteMeta(kw) + `\b`).MatchString(s)
}
