package vlm

// DocTagsPrompt is the instruction DocTags-trained models expect.
const DocTagsPrompt = "Convert this page to docling."

// MarkdownPrompt asks a general vision model for the page as Markdown.
const MarkdownPrompt = `Convert this document page to Markdown. Preserve the structure:
- Prefix headings with # according to their level
- Keep paragraphs in reading order, separated by blank lines
- Format lists as Markdown lists, keeping their numbering
- Format tables as GitHub-flavored Markdown tables
- Wrap code in fenced code blocks
- Leave out page numbers, running headers and footers

Respond with ONLY the Markdown, no commentary.`

// HTMLPrompt asks for the page as an HTML fragment.
const HTMLPrompt = `Convert this document page to an HTML fragment using only h1-h6, p, ul, ol, li, table, tr, th, td, pre, code, figure and figcaption elements. Use rowspan and colspan for merged table cells. Respond with ONLY the HTML.`

// TextPrompt asks for the plain text of the page.
const TextPrompt = "Transcribe all text on this page in reading order. Separate paragraphs with a blank line. Respond with ONLY the text."

// PromptFor returns custom when set, otherwise the default prompt for f.
func PromptFor(f ResponseFormat, custom string) string {
	if custom != "" {
		return custom
	}
	switch f {
	case FormatDocTags:
		return DocTagsPrompt
	case FormatHTML:
		return HTMLPrompt
	case FormatText:
		return TextPrompt
	}
	return MarkdownPrompt
}
