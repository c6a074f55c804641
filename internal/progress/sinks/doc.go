// Package sinks contains progress.Sink implementations: structured logs,
// Prometheus collectors, Pub/Sub lifecycle notifications and JSONL transcripts.
package sinks
