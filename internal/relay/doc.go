// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package relay is the loopback CORS relay in front of the Ollama API.
//
// Endpoints:
//   - ANY /proxy/{path...} - forward an allow-listed API path to the upstream
//   - GET /health          - liveness and the configured upstream
//
// Only /api/tags, /api/chat, /api/generate and /api/show are forwarded, and
// only to a loopback upstream. Responses are streamed back with a flush
// after every write so NDJSON chat streams arrive as they are produced.
//
// Browser callers must send the configured extension origin (or no Origin
// header at all); other origins are refused before any upstream traffic.
package relay
