// Package embedder provides text embedding generation for semantic search.
//
// The Embedder interface abstracts embedding providers; implementations
// exist for a local Ollama server, the OpenAI API, and a deterministic
// hash-based local fallback used in tests and offline setups. All providers
// are safe for concurrent use, cache results by content hash, and retry
// transient failures with exponential backoff.
//
// The Scheduler batches pending texts, drives the provider across a worker
// pool, and hands each completed batch to the vector store as one atomic
// insert, guaranteeing at most one in-flight task per (id, generation).
package embedder
