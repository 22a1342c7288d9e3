package sanitize

import (
	"strings"
	"testing"
)

func TestText(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"  <b>Jeanne</b>   Dupont ":          "Jeanne Dupont",
		"O'Brien":                           "O'Brien",
		"<script>alert(1)</script>Thé vert": "Thé vert",
		"":                                  "",
	}
	for in, want := range cases {
		if got := Text(in); got != want {
			t.Fatalf("Text(%q) = %q, want %q", in, got, want)
		}
	}

	if TextPtr(nil) != nil {
		t.Fatal("nil pointer must stay nil")
	}
}

func TestMarkdown_RemovesActiveContent(t *testing.T) {
	t.Parallel()

	out := Markdown(`Un coffret **100 g** <a href="javascript:alert(1)">lien</a> <img src=x onerror=alert(1)><iframe src="https://evil.example"></iframe>`)

	for _, banned := range []string{"javascript:", "<img", "onerror", "<iframe"} {
		if strings.Contains(out, banned) {
			t.Fatalf("sanitized description still contains %q: %s", banned, out)
		}
	}
	if !strings.Contains(out, "**100 g**") || !strings.Contains(out, "lien") {
		t.Fatalf("markdown text must survive: %s", out)
	}
}
