package agent

import (
	"fmt"
	"strings"
)

// SystemPrompt builds the instructions prepended to the outermost model call.
func SystemPrompt(context, behaviour, summaries string) string {
	var b strings.Builder
	b.WriteString("You are a customer-facing assistant working alongside human colleagues. ")
	b.WriteString("Answer in the language of the user. Keep replies short and split longer answers into paragraphs separated by a blank line.\n")
	b.WriteString("If you cannot help, or the user asks for a person, use the colleague_handoff tool instead of replying.\n")

	if behaviour != "" {
		b.WriteString("\n<behaviour>\n")
		b.WriteString(behaviour)
		b.WriteString("\n</behaviour>\n")
	}
	if context != "" {
		b.WriteString("\nUse the following context when it is relevant. Do not invent facts that are not in it.\n<context>\n")
		b.WriteString(context)
		b.WriteString("\n</context>\n")
	}
	if summaries != "" {
		b.WriteString("\nSummaries of earlier conversations with this contact:\n<history>\n")
		b.WriteString(summaries)
		b.WriteString("\n</history>\n")
	}
	return b.String()
}

func CondensePrompt(history, question string) string {
	return fmt.Sprintf(`Given the conversation below and a follow up message from A, rephrase the follow up into a standalone question in its original language.

Conversation:
%s

Follow up message:
%s`, history, question)
}

const condenseInstruction = "What is the standalone question? " +
	"Respond with the question only. " +
	"No comments or other text. " +
	"If only one question is present, respond with that question. " +
	"If the user is asking multiple questions in their last message, respond with all of them."

func SummaryPrompt(conversation string) string {
	return fmt.Sprintf(`You are summarising a finished support conversation so that a future assistant can pick up where it ended.
Keep names, commitments, open issues and any preferences the user stated.

Conversation:
%s`, conversation)
}

const summaryInstruction = "Generate a detailed summary of the conversation. " +
	"Respond with the summary only. " +
	"No comments or other text. " +
	"Remember to generate it in English and to add the primary language of the conversation at the end of the summary."

const visionPrompt = "Describe the images in the next message in detail. " +
	"Transcribe any visible text verbatim. Respond with the description only."
