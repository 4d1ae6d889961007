// Package gemini provides a summarizer that uses Google's Gemini API.
//
// The adapter renders the configured prompt, calls the model with bounded
// retries for transient failures, and returns the concatenated text of the
// first candidate. Blocked or empty responses are permanent failures and are
// not retried.
package gemini
