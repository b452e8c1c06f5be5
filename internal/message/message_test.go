package message_test

import (
	"strings"
	"testing"

	"miyu/internal/message"
)

func TestSanitizeStripsScripts(t *testing.T) {
	got := message.Sanitize(`<p onclick="x()">hi<script>alert(1)</script></p>`)
	if strings.Contains(got, "script") || strings.Contains(got, "onclick") {
		t.Fatalf("unsafe markup survived: %q", got)
	}
	if !strings.Contains(got, "hi") {
		t.Fatalf("text lost: %q", got)
	}
}

func TestFromPlainText(t *testing.T) {
	got := message.FromPlainText("meet at <noon>\nbring snacks\n\nsee you")
	want := "<p>meet at &lt;noon&gt;<br>bring snacks</p><p>see you</p>"
	if got != want {
		t.Fatalf("FromPlainText = %q, want %q", got, want)
	}
	if message.FromPlainText("   ") != "" {
		t.Fatal("blank input must produce empty output")
	}
}

func TestCompose(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "hello", "<p>hello</p>"},
		{"html kept", "<p><strong>hi</strong></p>", "<p><strong>hi</strong></p>"},
		{"html sanitized", `<p>x<img src=x onerror=y></p>`, `<p>x<img src="x"></p>`},
		{"comparison is not a tag", "2 < 3", "<p>2 &lt; 3</p>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := message.Compose(tt.input); got != tt.want {
				t.Fatalf("Compose(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestIsBlank(t *testing.T) {
	for _, blank := range []string{"", "<p></p>", "<p><br></p>", "  <p> &nbsp; </p>"} {
		if !message.IsBlank(blank) {
			t.Fatalf("expected %q to be blank", blank)
		}
	}
	if message.IsBlank("<p>x</p>") {
		t.Fatal("expected text to be non-blank")
	}
}

func TestRendererProducesMarkdown(t *testing.T) {
	r := message.NewRenderer()
	got := r.Render(`<p>Hello <strong>world</strong></p><ul><li>one</li></ul>`)
	if !strings.Contains(got, "**world**") {
		t.Fatalf("expected bold markdown, got %q", got)
	}
	if !strings.Contains(got, "- one") {
		t.Fatalf("expected list markdown, got %q", got)
	}
	if plain := r.Render("just text &amp; more"); plain != "just text & more" {
		t.Fatalf("unexpected plain rendering %q", plain)
	}
}
