// Prompt construction for the derived LLM calls (title summarization and
// metadata extraction). These are the only payloads the gateway authors
// itself; everything else is forwarded verbatim.
package gateway

import (
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"github.com/tidwall/sjson"

	"github.com/auditgate/llm-gateway/internal/utils"
)

const summarizerSystemPrompt = "You are a conversation summarizer, you will summarize a conversation " +
	"for a list of user requests to the LLM. Output should be a summarization that has a max of 49 " +
	"characters and avoid mentioning the user."

const metadataSystemPrompt = `I will provide a JSON object describing a previous conversation with an LLM assistant, along with details about the job title of the user having the conversation. You will analyze the conversation and extract data points about the conversation in machine readable format, expressing your responses only as JSON. You will output only a JSON structure similar to the following, with values assessed from the conversation I pass you and comments removed, no other text. Your response will be loaded directly into a DB, so ONLY output the JSON structure and nothing else. Here is an example JSON for reference with comments.

{
  "chat_summary": "Creative Writing", // This key should contain a succinct summary of why you think the human was having the conversation with an LLM.
  "description": "The assistant helped write a horror story", // This key should contain a more detailed summarized description of the key deliverables provided by the LLM assistant to the user.
  "llm_deliverables": ["Sample Paragraphs, Source Code, Research"], // This key should contain an array of all the deliverables produced by the assistant for the user.
  "satisfaction_score": "0.76", // This key should express as a percentage how satisfied the user appears to be with the final LLM response on a scale from 0 to 1. Only assess the user messages for this key, not the assistant messages.
  "work_related": "true", // This key should simply provide a boolean value as to whether or not the conversation appeared to be work related.
  "user_seconds_saved": "120", // This key should provide a time estimate, in seconds, of how much total time you think the assistant was able to save the human given the context provided.
  "assistant_seconds_saved": "80", // Assuming the assistant was also a human, estimate in seconds how much total time it would have taken a human assistant to formulate and draft the responses in the conversation.
  "assistant_wage": "21.50", // Assuming the assistant was a human, estimate the hourly fully loaded employee cost in 2021 US dollars to pay a competent human assistant to deliver the responses in this conversation.
  "languages": "English" // This key should return a list of all natural languages used by either the human or the LLM, and also programming languages such as Python.
}`

// derivedCallModel is the model used for gateway-authored calls.
const derivedCallModel = openai.GPT3Dot5Turbo

// buildSummarizerPrompt serializes a title-summarization payload over the
// user-authored turns of a conversation.
func buildSummarizerPrompt(userMessages []string) ([]byte, error) {
	return buildDerivedCall(summarizerSystemPrompt,
		fmt.Sprintf("conversation: %v", userMessages))
}

// buildMetadataPrompt serializes a metadata-extraction payload embedding the
// stored request of the conversation's most recent entry.
func buildMetadataPrompt(userTitle, storedRequest string) ([]byte, error) {
	return buildDerivedCall(metadataSystemPrompt,
		fmt.Sprintf("{user_title: %s, conversation: %s }", userTitle, storedRequest))
}

func buildDerivedCall(system, user string) ([]byte, error) {
	prompt := openai.ChatCompletionRequest{
		Model: derivedCallModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	}
	payload, err := utils.MarshalNoEscape(prompt)
	if err != nil {
		return nil, err
	}
	// Deterministic output wanted; the typed struct omits a zero temperature.
	return sjson.SetBytes(payload, "temperature", 0)
}
