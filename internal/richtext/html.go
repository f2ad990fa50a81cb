package richtext

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"
)

// RenderHTML converts ProseMirror JSON into an HTML fragment. Unknown node
// types render their children so future editor nodes degrade gracefully.
func RenderHTML(content json.RawMessage) string {
	if isEmptyContent(content) {
		return ""
	}
	var root map[string]any
	if err := json.Unmarshal(content, &root); err != nil {
		return ""
	}
	return renderNode(root)
}

func renderNode(node map[string]any) string {
	nodeType, _ := node["type"].(string)
	if nodeType == "" {
		return ""
	}

	switch nodeType {
	case "doc":
		return renderChildren(node["content"])
	case "paragraph":
		return fmt.Sprintf("<p>%s</p>\n", renderChildren(node["content"]))
	case "heading":
		level := 1
		if attrs, ok := node["attrs"].(map[string]any); ok {
			if lvl, ok := attrs["level"].(float64); ok {
				level = int(lvl)
			}
		}
		return fmt.Sprintf("<h%d>%s</h%d>\n", level, renderChildren(node["content"]), level)
	case "bulletList":
		return fmt.Sprintf("<ul>\n%s</ul>\n", renderChildren(node["content"]))
	case "orderedList":
		return fmt.Sprintf("<ol>\n%s</ol>\n", renderChildren(node["content"]))
	case "listItem":
		return fmt.Sprintf("<li>%s</li>\n", renderChildren(node["content"]))
	case "blockquote":
		return fmt.Sprintf("<blockquote>\n%s</blockquote>\n", renderChildren(node["content"]))
	case "codeBlock":
		return fmt.Sprintf("<pre><code>%s</code></pre>\n", html.EscapeString(textOnly(node["content"])))
	case "text":
		text, _ := node["text"].(string)
		marks, _ := node["marks"].([]any)
		return renderTextWithMarks(text, marks)
	case "hardBreak":
		return "<br>"
	case "horizontalRule":
		return "<hr>\n"
	default:
		return renderChildren(node["content"])
	}
}

func renderChildren(content any) string {
	items, ok := content.([]any)
	if !ok {
		return ""
	}
	var b strings.Builder
	for _, item := range items {
		if node, ok := item.(map[string]any); ok {
			b.WriteString(renderNode(node))
		}
	}
	return b.String()
}

func textOnly(content any) string {
	items, ok := content.([]any)
	if !ok {
		return ""
	}
	var b strings.Builder
	for _, item := range items {
		b.WriteString(extractText(item))
	}
	return b.String()
}

func renderTextWithMarks(text string, marks []any) string {
	if text == "" {
		return ""
	}
	rendered := html.EscapeString(text)
	if len(marks) == 0 {
		return rendered
	}

	// Apply marks from outside in.
	for i := len(marks) - 1; i >= 0; i-- {
		mark, ok := marks[i].(map[string]any)
		if !ok {
			continue
		}
		markType, _ := mark["type"].(string)
		switch markType {
		case "bold":
			rendered = fmt.Sprintf("<strong>%s</strong>", rendered)
		case "italic":
			rendered = fmt.Sprintf("<em>%s</em>", rendered)
		case "code":
			rendered = fmt.Sprintf("<code>%s</code>", rendered)
		case "strike":
			rendered = fmt.Sprintf("<s>%s</s>", rendered)
		case "underline":
			rendered = fmt.Sprintf("<u>%s</u>", rendered)
		case "link":
			href := ""
			if attrs, ok := mark["attrs"].(map[string]any); ok {
				if v, ok := attrs["href"].(string); ok {
					href = v
				}
			}
			rendered = fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(href), rendered)
		}
	}
	return rendered
}
