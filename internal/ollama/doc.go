// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for the Ollama API, reached either
// directly or through the ollamabro relay (BaseURL ending in /proxy).
//
// # Key Types
//
//   - Client: list models, fetch model metadata, stream chat completions
//   - Message: chat message with role, content and base64 images
//   - StreamReader: newline-delimited JSON reader for streamed replies
//   - ClientError: typed transport error; see IsRetryable
//
// # Usage
//
//	client := ollama.NewClientWithConfig(&ollama.ClientConfig{
//	    BaseURL: "http://127.0.0.1:3000/proxy",
//	})
//	req := ollama.ChatRequest{Model: "llama3.2:3b", Messages: messages}
//	err := client.ChatStreamWithReader(ctx, req, nil, func(c ollama.StreamChunk) {
//	    fmt.Print(c.Content)
//	})
package ollama
