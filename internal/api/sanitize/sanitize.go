// Package sanitize cleans user-supplied text before it is stored: names are reduced to plain
// text, gain descriptions keep a small markdown-friendly HTML subset.
package sanitize

import (
	"html"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	policiesOnce      sync.Once
	plainPolicy       *bluemonday.Policy
	descriptionPolicy *bluemonday.Policy
)

// Text strips every tag and collapses whitespace. Entities are decoded so "O'Brien" is
// stored as typed.
func Text(input string) string {
	value := strings.TrimSpace(input)
	if value == "" {
		return ""
	}
	stripped := html.UnescapeString(policies().plain.Sanitize(value))
	return strings.Join(strings.Fields(stripped), " ")
}

func TextPtr(input *string) *string {
	if input == nil {
		return nil
	}
	value := Text(*input)
	return &value
}

// Markdown keeps markdown source intact and removes scripts, images, frames and unsafe links.
func Markdown(input string) string {
	value := strings.TrimSpace(input)
	if value == "" {
		return ""
	}
	return policies().description.Sanitize(value)
}

func MarkdownPtr(input *string) *string {
	if input == nil {
		return nil
	}
	value := Markdown(*input)
	return &value
}

type policySet struct {
	plain       *bluemonday.Policy
	description *bluemonday.Policy
}

func policies() policySet {
	policiesOnce.Do(func() {
		plainPolicy = bluemonday.StrictPolicy()

		policy := bluemonday.NewPolicy()
		policy.AllowElements("p", "br", "strong", "em", "ul", "ol", "li", "blockquote", "code", "pre")
		policy.AllowStandardURLs()
		policy.AllowAttrs("href").OnElements("a")
		policy.RequireNoFollowOnLinks(true)
		policy.AddTargetBlankToFullyQualifiedLinks(true)
		descriptionPolicy = policy
	})

	return policySet{plain: plainPolicy, description: descriptionPolicy}
}
