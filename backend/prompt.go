package backend

import (
	"strings"
)

const supportedLanguages = "python, json, bash, javascript, typescript, java, csharp, cpp, go, rust, php, ruby, sql, html, css, text"

const (
	initialSystemPrompt = "System Prompt (Shot-0):\n" +
		"You are MarkdownFenceBot v1, an AI assistant specialised in identifying code blocks " +
		"within a stream of text tokens and inserting appropriate language-specific Markdown fences. " +
		"Your goal is to accurately demarcate code snippets."

	fallbackSystemPrompt = "System Prompt (Big Model):\n" +
		"You are MarkdownFenceBot v1 (Big Model instance), an AI assistant specialised in identifying " +
		"code blocks within a stream of text tokens and inserting appropriate language-specific Markdown fences. " +
		"A previous attempt by a smaller model resulted in errors, so you are being called as a more capable fallback. " +
		"Your goal is to accurately demarcate code snippets."

	selfRepairSystemPrompt = "System Prompt (Shot-1):\n" +
		"You are MarkdownFenceBot v1 running in self-repair mode. " +
		"You previously attempted to fence the provided tokens, but the command list you produced failed validation.\n" +
		"Analyse the error context, then return a corrected list of commands following the same OUTPUT RULES."
)

const fencingRules = "OUTPUT RULES:\n" +
	"- To insert a fence start: INSERT_FENCE_START <token_id> <language_tag>\n" +
	"  (Insert a start fence *before* the token with ID <token_id>.)\n" +
	"- To insert a fence end: INSERT_FENCE_END <token_id>\n" +
	"  (Insert an end fence *before* the token with ID <token_id>.)\n" +
	"Supported language_tag values: " + supportedLanguages + ".\n" +
	"If unsure about the language, use 'text'.\n" +
	"Ensure every INSERT_FENCE_START has a corresponding INSERT_FENCE_END.\n" +
	"Return only one command per line."

const repairRules = "OUTPUT RULES (same as before):\n" +
	"- INSERT_FENCE_START <token_id> <language_tag>\n" +
	"- INSERT_FENCE_END <token_id>\n" +
	"Supported languages: " + supportedLanguages + ".\n" +
	"Only one command per line."

// RenderTokens renders tokens one per line as "[00003]text"
func RenderTokens(tokens []TokenRef) string {
	var b strings.Builder
	for i, tok := range tokens {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteByte('[')
		b.WriteString(tok.ID)
		b.WriteByte(']')
		b.WriteString(tok.Text)
	}
	return b.String()
}

// BuildPrompt returns the system and user messages for req
func BuildPrompt(req Request) (system, user string) {
	tokens := "TEXT (numbered tokens from input):\n" + RenderTokens(req.Tokens)

	switch req.Mode {
	case ModeSelfRepair:
		prior := strings.TrimSpace(req.PriorCommands)
		if prior == "" {
			prior = "[none]"
		}
		errorContext := req.ErrorContext
		if errorContext == "" {
			errorContext = "n/a"
		}
		user = "PREVIOUS COMMANDS:\n" + prior + "\n\n" +
			"ERROR CONTEXT:\n" + errorContext + "\n\n" +
			tokens + "\n\n" + repairRules
		return selfRepairSystemPrompt, user
	case ModeFallback:
		return fallbackSystemPrompt, tokens + "\n\n" + fencingRules
	default:
		return initialSystemPrompt, tokens + "\n\n" + fencingRules
	}
}
