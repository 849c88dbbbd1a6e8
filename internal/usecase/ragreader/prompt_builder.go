package ragreader

import (
	"fmt"
	"strings"

	"echoman/internal/domain"
)

// ContextChunk is one piece of recalled context (a source item or a
// topic summary plus its recent nodes) competing for the token
// budget's context allowance.
type ContextChunk struct {
	ID    string
	Label string
	Text  string
}

// BuildInput carries what the chat prompt needs once retrieval and
// token allocation have already run.
type BuildInput struct {
	Query   string
	Mode    Mode
	Context []ContextChunk
}

// PromptBuilder renders the chat messages sent to the LLM for one RAG
// answer. Grounded the same way summaryengine's builder is: an
// XML-tagged instruction block plus an XML-tagged context payload,
// generalized here from a topic narrative to a question-answering
// contract with inline citation markers.
type PromptBuilder interface {
	Build(input BuildInput) []domain.Message
}

type xmlPromptBuilder struct{}

func NewXMLPromptBuilder() PromptBuilder {
	return &xmlPromptBuilder{}
}

func (b *xmlPromptBuilder) Build(input BuildInput) []domain.Message {
	var sys strings.Builder
	sys.WriteString("<instructions>\n")
	lines := []string{
		"You are an assistant answering a question about Chinese social/news hot topics using only the <context> provided.",
		"1. Read every <chunk> under <context> before answering.",
		"2. Answer in the same language as the question, citing chunk ids inline like [c1] where relevant.",
		"3. If the context does not contain enough information to answer, say so plainly rather than guessing.",
		"4. Respond with plain text only — no JSON, no markdown code fences.",
	}
	for _, l := range lines {
		sys.WriteString("  <line>")
		sys.WriteString(escape(l))
		sys.WriteString("</line>\n")
	}
	sys.WriteString("</instructions>\n")

	var user strings.Builder
	user.WriteString("<question>")
	user.WriteString(escape(input.Query))
	user.WriteString("</question>\n")
	user.WriteString("<context>\n")
	for _, c := range input.Context {
		user.WriteString(fmt.Sprintf("  <chunk id=%q label=%q>%s</chunk>\n", c.ID, escape(c.Label), escape(c.Text)))
	}
	user.WriteString("</context>\n")

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
