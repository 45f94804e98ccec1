// Copyright (C) 2026 Harbor AI (oss@harborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extraction

import (
	"context"
	"fmt"
	"os"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/HarborAI/HarborFlow/services/action/datatypes"
)

// =============================================================================
// Ollama ChatClient (langchaingo)
// =============================================================================

// OllamaChatClient implements ChatClient over a local Ollama server using
// langchaingo.
//
// # Thread Safety
//
// Safe for concurrent use; the underlying langchaingo client is stateless
// per call.
type OllamaChatClient struct {
	llm *ollama.LLM
}

// NewOllamaChatClient creates an OllamaChatClient.
//
// # Description
//
// Reads OLLAMA_BASE_URL from the environment when serverURL is empty;
// falls back to the Ollama default (http://localhost:11434). The model is
// chosen per call via ChatOptions.Model.
func NewOllamaChatClient(serverURL string) (*OllamaChatClient, error) {
	if serverURL == "" {
		serverURL = os.Getenv("OLLAMA_BASE_URL")
	}

	opts := []ollama.Option{}
	if serverURL != "" {
		opts = append(opts, ollama.WithServerURL(serverURL))
	}

	client, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create ollama client: %w", err)
	}
	return &OllamaChatClient{llm: client}, nil
}

// Chat sends a multi-turn conversation and returns the assistant text.
func (c *OllamaChatClient) Chat(ctx context.Context, messages []datatypes.Message, opts ChatOptions) (string, error) {
	content := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		content = append(content, llms.TextParts(roleFor(m.Role), m.Content))
	}

	callOpts := []llms.CallOption{
		llms.WithTemperature(opts.Temperature),
	}
	if opts.Model != "" {
		callOpts = append(callOpts, llms.WithModel(opts.Model))
	}
	if opts.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(opts.MaxTokens))
	}

	resp, err := c.llm.GenerateContent(ctx, content, callOpts...)
	if err != nil {
		return "", fmt.Errorf("ollama chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("ollama chat: empty response")
	}
	return resp.Choices[0].Content, nil
}

// roleFor maps wire roles onto langchaingo message types.
func roleFor(role string) llms.ChatMessageType {
	switch role {
	case "system":
		return llms.ChatMessageTypeSystem
	case "assistant":
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}
