// Package openaicompat implements the provider adapter for OpenAI-compatible
// Chat Completions backends (OpenAI, vLLM, LiteLLM, Ollama, and most hosted
// gateways). It covers request body construction, parameter mapping, and
// decoding of both complete and streamed responses.
package openaicompat
