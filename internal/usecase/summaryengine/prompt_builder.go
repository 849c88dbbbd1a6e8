package summaryengine

import (
	"fmt"
	"strings"

	"echoman/internal/domain"
)

// NodeBrief is one source item contributing to a topic, trimmed to
// the fields the summary prompt actually needs.
type NodeBrief struct {
	Title   string
	Summary string
	Period  string
}

// BuildInput carries what a Full/Incremental summary prompt needs.
type BuildInput struct {
	Category    string
	PriorSummary string // empty for GenerateFull
	Nodes       []NodeBrief
}

// PromptBuilder renders the chat messages sent to the LLM for topic
// summary generation.
type PromptBuilder interface {
	Build(input BuildInput) []domain.Message
}

// XMLPromptBuilder mirrors the structured-instructions idiom used
// elsewhere in this codebase, generalized from citation-bearing
// document answers to a topic narrative summary with no citation
// bookkeeping.
type XMLPromptBuilder struct{}

func NewXMLPromptBuilder() PromptBuilder {
	return &XMLPromptBuilder{}
}

func (b *XMLPromptBuilder) Build(input BuildInput) []domain.Message {
	var sys strings.Builder
	sys.WriteString("<instructions>\n")
	lines := []string{
		"You are an assistant that writes a short Chinese-language news summary for a topic cluster.",
		"1. Read every <node> under <nodes> — each is one source article folded into this topic.",
		"2. Write a single paragraph, 80-200 characters, covering what happened and why it matters.",
		"3. Do not invent facts not present in the nodes.",
		"4. Respond with JSON only: {\"summary\": \"...\"}.",
	}
	if input.PriorSummary != "" {
		lines = append(lines, "5. A <prior_summary> is included — revise it to fold in the new nodes rather than starting over.")
	}
	for _, l := range lines {
		sys.WriteString("  <line>")
		sys.WriteString(escape(l))
		sys.WriteString("</line>\n")
	}
	sys.WriteString("</instructions>\n")

	var user strings.Builder
	user.WriteString("<category>")
	user.WriteString(escape(input.Category))
	user.WriteString("</category>\n")
	if input.PriorSummary != "" {
		user.WriteString("<prior_summary>")
		user.WriteString(escape(input.PriorSummary))
		user.WriteString("</prior_summary>\n")
	}
	user.WriteString("<nodes>\n")
	for _, n := range input.Nodes {
		user.WriteString("  <node>\n")
		user.WriteString(fmt.Sprintf("    <period>%s</period>\n", escape(n.Period)))
		user.WriteString(fmt.Sprintf("    <title>%s</title>\n", escape(n.Title)))
		user.WriteString(fmt.Sprintf("    <summary>%s</summary>\n", escape(n.Summary)))
		user.WriteString("  </node>\n")
	}
	user.WriteString("</nodes>\n")

	return []domain.Message{
		{Role: "system", Content: sys.String()},
		{Role: "user", Content: user.String()},
	}
}

func escape(value string) string {
	s := strings.TrimSpace(value)
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		"\"", "&quot;",
		"'", "&#39;",
	)
	return replacer.Replace(s)
}
