package logger

import (
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const redacted = "***"

// redactionRule rewrites the value of any field whose normalised key it matches.
// Nested maps are walked so request bodies get the same treatment as top-level fields.
type redactionRule struct {
	match func(key string) bool
	apply func(value string) string
}

var redactionRules = []redactionRule{
	{match: keyContains("password", "token", "secret", "authorization", "cookie"), apply: func(string) string { return redacted }},
	{match: keyEquals("code", "ticketcode"), apply: MaskCode},
	{match: keyEquals("email", "winner"), apply: MaskEmail},
}

// SanitizeFields returns fields with credentials hidden, ticket codes shortened and
// e-mail addresses masked.
func SanitizeFields(fields []zap.Field) []zap.Field {
	if len(fields) == 0 {
		return fields
	}

	out := make([]zap.Field, 0, len(fields))
	for _, field := range fields {
		enc := zapcore.NewMapObjectEncoder()
		field.AddTo(enc)
		value, ok := enc.Fields[field.Key]
		if !ok {
			out = append(out, field)
			continue
		}
		out = append(out, zap.Any(field.Key, redactValue(field.Key, value)))
	}
	return out
}

// MaskEmail keeps the first letter of the local part: "jeanne@example.com" becomes
// "j***@example.com".
func MaskEmail(email string) string {
	local, domain, found := strings.Cut(strings.TrimSpace(email), "@")
	if !found || local == "" {
		return redacted
	}
	first, _ := utf8.DecodeRuneInString(local)
	return string(first) + redacted + "@" + domain
}

// MaskCode keeps the first and last two characters of a ticket code.
func MaskCode(code string) string {
	code = strings.TrimSpace(code)
	if utf8.RuneCountInString(code) <= 4 {
		return redacted
	}
	runes := []rune(code)
	return string(runes[:2]) + strings.Repeat("*", len(runes)-4) + string(runes[len(runes)-2:])
}

func redactValue(key string, value interface{}) interface{} {
	rule := ruleFor(key)

	switch typed := value.(type) {
	case map[string]interface{}:
		if rule != nil {
			return redacted
		}
		out := make(map[string]interface{}, len(typed))
		for k, v := range typed {
			out[k] = redactValue(k, v)
		}
		return out
	case []interface{}:
		out := make([]interface{}, 0, len(typed))
		for _, item := range typed {
			out = append(out, redactValue(key, item))
		}
		return out
	case string:
		if rule != nil {
			return rule.apply(typed)
		}
		return typed
	default:
		if rule != nil {
			return redacted
		}
		return typed
	}
}

func ruleFor(key string) *redactionRule {
	normalized := normalizeKey(key)
	if normalized == "" {
		return nil
	}
	for i := range redactionRules {
		if redactionRules[i].match(normalized) {
			return &redactionRules[i]
		}
	}
	return nil
}

func normalizeKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	return strings.NewReplacer("-", "", "_", "").Replace(key)
}

func keyContains(tokens ...string) func(string) bool {
	return func(key string) bool {
		for _, token := range tokens {
			if strings.Contains(key, token) {
				return true
			}
		}
		return false
	}
}

func keyEquals(names ...string) func(string) bool {
	return func(key string) bool {
		for _, name := range names {
			if key == name {
				return true
			}
		}
		return false
	}
}
