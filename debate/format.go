package debate

import (
	"fmt"
	"strings"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/microcosm-cc/bluemonday"
	"github.com/smallnest/debategraph/graph"
)

// FormatMarkdown renders a debate state as a markdown summary. Sections for
// rebuttals and the verdict appear only when present.
func FormatMarkdown(state graph.State) string {
	lines := []string{fmt.Sprintf("# Debate: %s", state.String(FieldTopic))}

	lines = append(lines, "\n## Stances")
	lines = append(lines, fmt.Sprintf("- **A:** %s", state.String(FieldStanceA)))
	lines = append(lines, fmt.Sprintf("- **B:** %s", state.String(FieldStanceB)))

	lines = append(lines, "\n## Opening Arguments")
	lines = append(lines, fmt.Sprintf("**A:**\n%s", state.String(FieldArgumentA)))
	lines = append(lines, fmt.Sprintf("\n**B:**\n%s", state.String(FieldArgumentB)))

	rounds := state.Int(FieldRounds)
	for round := 1; round <= max(rounds, 1); round++ {
		suffix := ""
		if round > 1 {
			suffix = fmt.Sprintf(", round %d", round)
		}
		if text := state.String(RebuttalField(SideA, round)); text != "" {
			lines = append(lines, fmt.Sprintf("\n## Rebuttals (A → B%s)", suffix), text)
		}
		if text := state.String(RebuttalField(SideB, round)); text != "" {
			lines = append(lines, fmt.Sprintf("\n## Rebuttals (B → A%s)", suffix), text)
		}
	}

	if verdict := state.String(FieldVerdict); verdict != "" {
		lines = append(lines, "\n## Verdict", verdict)
	}
	return strings.Join(lines, "\n")
}

// RenderHTML converts summary markdown to HTML that is safe to embed in a page.
func RenderHTML(md string) []byte {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	doc := p.Parse([]byte(md))

	renderer := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags | html.HrefTargetBlank})
	unsafe := markdown.Render(doc, renderer)

	return bluemonday.UGCPolicy().SanitizeBytes(unsafe)
}
