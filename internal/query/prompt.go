package query

import (
	"fmt"
	"strings"
)

// snippetCharCap bounds each snippet's contribution to the prompt.
const snippetCharCap = 1200

const systemPrompt = "You are an expert AI assistant specialized in Question Answering over specific documents. " +
	"Your task is to answer the user's question based ONLY on the provided context snippets.\n\n" +
	"Guidelines:\n" +
	"1. Use ONLY the provided context. Do not use external knowledge or prior training data.\n" +
	"2. If the answer cannot be derived from the context, strictly say: 'I cannot answer this question based on the provided documents.'\n" +
	"3. Cite your sources. Every factual statement must be backed by a citation in the format [source:source_name#id].\n" +
	"4. Keep the answer concise, professional, and directly relevant to the question."

// Snippet is one context passage selected for generation.
type Snippet struct {
	ID     string
	Source string
	Text   string
	Score  float64
}

// BuildPrompt assembles the grounding-only system instruction and a user
// turn enumerating the snippets as tagged blocks.
func BuildPrompt(question string, snippets []Snippet) (system, user string) {
	blocks := make([]string, 0, len(snippets))
	for _, s := range snippets {
		text := truncate(strings.TrimSpace(s.Text), snippetCharCap)
		blocks = append(blocks, fmt.Sprintf("<snippet id=%q source=%q>\n%s\n</snippet>", s.ID, s.Source, text))
	}

	user = fmt.Sprintf(
		"User Question: %s\n\nContext Snippets:\n%s\n\nPlease answer the question following the guidelines above.",
		question, strings.Join(blocks, "\n\n"),
	)
	return systemPrompt, user
}

func truncate(text string, capChars int) string {
	runes := []rune(text)
	if len(runes) <= capChars {
		return text
	}
	return string(runes[:capChars]) + "..."
}
