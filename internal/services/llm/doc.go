// Package llm provides an OpenAI-compatible chat client for JSON-only
// completions.
//
// This package is used by:
//   - Classification pass: propose speaker or character labels for
//     unattributed diarization segments
//   - Preflight: verify the configured key and model before the daemon
//     accepts classification work
//
// # Request Shape
//
// The client sends a system prompt and a user prompt with temperature 0 and
// response_format json_object, then extracts the first non-empty content from
// the response. Providers disagree on where content lands (message, delta,
// legacy text, tool call arguments), so extraction tolerates all of them.
//
// # Configuration
//
// Requires api_key and model, optionally base_url, referer, title, timeout.
// When unconfigured, callers skip the classification pass entirely.
//
// # Entry Points
//
// NewClient: construct client from Config.
// Client.CompleteJSON: send system/user prompts, receive the raw JSON payload.
// Client.HealthCheck: verify API key and model availability.
// DecodeLLMJSON: decode model output, stripping code fences and prose.
//
// # Retry Behaviour
//
// The client retries on HTTP 408/429/5xx errors, network timeouts, and empty
// completions with exponential backoff (base 1s, max 10s, up to 5 attempts by
// default). Context cancellation aborts retries immediately.
package llm
