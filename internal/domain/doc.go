// Package domain defines the core entities of the summarization pipeline:
// the durable per-paper record, the queue message that references it, the
// compute node power states, and the error taxonomy shared by every layer.
//
// The package has no dependencies on storage, transport or cloud SDKs.
package domain
