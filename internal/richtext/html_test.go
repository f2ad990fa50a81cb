package richtext

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestRenderHTMLBasicBlocks(t *testing.T) {
	raw := json.RawMessage(`{"type":"doc","content":[
		{"type":"heading","attrs":{"level":2},"content":[{"type":"text","text":"Title"}]},
		{"type":"paragraph","content":[{"type":"text","text":"bold","marks":[{"type":"bold"}]}]},
		{"type":"horizontalRule"}
	]}`)
	html := RenderHTML(raw)

	for _, want := range []string{"<h2>Title</h2>", "<strong>bold</strong>", "<hr>"} {
		if !strings.Contains(html, want) {
			t.Errorf("rendered HTML missing %q:\n%s", want, html)
		}
	}
}

func TestRenderHTMLEscapesText(t *testing.T) {
	raw := json.RawMessage(`{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":"<script>"}]}]}`)
	html := RenderHTML(raw)
	if strings.Contains(html, "<script>") {
		t.Errorf("text not escaped: %s", html)
	}
}

func TestRenderHTMLLinkMark(t *testing.T) {
	raw := json.RawMessage(`{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":"docs","marks":[{"type":"link","attrs":{"href":"https://example.com"}}]}]}]}`)
	html := RenderHTML(raw)
	if !strings.Contains(html, `<a href="https://example.com">docs</a>`) {
		t.Errorf("link not rendered: %s", html)
	}
}

func TestRenderHTMLUnknownNodeRendersChildren(t *testing.T) {
	raw := json.RawMessage(`{"type":"doc","content":[{"type":"callout","content":[{"type":"paragraph","content":[{"type":"text","text":"inside"}]}]}]}`)
	html := RenderHTML(raw)
	if !strings.Contains(html, "inside") {
		t.Errorf("unknown node children dropped: %s", html)
	}
}

func TestRenderHTMLEmpty(t *testing.T) {
	if got := RenderHTML(nil); got != "" {
		t.Errorf("RenderHTML(nil) = %q, want empty", got)
	}
}
