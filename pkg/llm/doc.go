// Package llm answers free-form user messages with the Anthropic Messages API.
package llm
