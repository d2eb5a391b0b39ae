package llm

import "fmt"

const answerSystemPrompt = `You answer questions about a web page using only the context passages provided.
Give a complete answer drawn from the context. If the context does not contain the answer, say so.
Format the answer as plain Markdown with headings, lists or paragraphs as needed.
Do not wrap the answer in code fences or tags.`

const summarySystemPrompt = `You summarize web pages. Write a short, faithful summary of the main points
of the given text in a few paragraphs. Do not add information that is not in the text.`

func answerUserPrompt(question, passages string) string {
	return fmt.Sprintf("context:\n%s\n\nquestion: %s", passages, question)
}

func summaryUserPrompt(text string) string {
	return fmt.Sprintf("Summarize this page:\n\n%s", text)
}
