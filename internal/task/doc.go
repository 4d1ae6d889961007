// Package task runs the compute node side of the summarization pipeline.
//
// A Processor long-polls the work queue, appends parsed jobs to a local run
// queue and drains it one job at a time: mark the record in flight, extract
// the document text, record its derived hash, summarize, write the terminal
// outcome and acknowledge the message. The same Processor owns the node's
// power lifecycle. An idle monitor samples the time since the last activity
// and a single-shot cooldown timer is armed each time the run queue drains.
// Either one requests termination through a gate that invokes the
// Terminator at most once.
//
// StaleSweeper complements the node from the gateway side by failing records
// that have been in flight for longer than a configured age, so they become
// eligible for re-submission.
package task
