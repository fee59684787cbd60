package chat

// Message is one turn of an OpenAI-compatible chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a non-streaming chat completion request.
type Request struct {
	Model      string
	Messages   []Message
	// JSONObject asks the provider to constrain the reply to a JSON object.
	JSONObject bool
}

type responseFormat struct {
	Type string `json:"type"`
}

type completionRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type completionResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
}

func (r Request) wire() completionRequest {
	out := completionRequest{
		Model:    r.Model,
		Messages: r.Messages,
	}
	if r.JSONObject {
		out.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	return out
}
