package jira

import "strings"

// adfNode is the subset of the Atlassian Document Format the hub reads and writes
type adfNode struct {
	Type    string    `json:"type"`
	Version int       `json:"version,omitempty"`
	Text    string    `json:"text,omitempty"`
	Content []adfNode `json:"content,omitempty"`
}

// toADF wraps plain text in a single-paragraph document
func toADF(text string) adfNode {
	return adfNode{
		Type:    "doc",
		Version: 1,
		Content: []adfNode{{
			Type:    "paragraph",
			Content: []adfNode{{Type: "text", Text: text}},
		}},
	}
}

// fromADF flattens a document to text: a block's text nodes are concatenated and
// blocks are joined by newlines. Blocks without content are skipped.
func fromADF(doc *adfNode) string {
	if doc == nil {
		return ""
	}
	var blocks []string
	for _, block := range doc.Content {
		if block.Content == nil {
			continue
		}
		var sb strings.Builder
		for _, item := range block.Content {
			sb.WriteString(item.Text)
		}
		blocks = append(blocks, sb.String())
	}
	return strings.Join(blocks, "\n")
}
