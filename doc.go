// Package stoker provides the background job scheduler for a
// content-distribution server. Long-running administrative work — channel
// imports from network peers, exports to removable drives, content
// deletion, peer sync — is enqueued as a durable job record, executed
// asynchronously on a bounded local worker pool, and observed by clients
// polling over HTTP.
//
// Stoker is a library, not a service. Register task handlers, pick a
// store, and build a queue:
//
//	reg := job.NewRegistry()
//	job.RegisterDefinition(reg, job.NewDefinition("import-channel", importChannel))
//
//	q := queue.New(memory.New(), reg)
//	if err := q.Start(ctx); err != nil { ... }
//
//	taskID, err := q.Enqueue(ctx, "import-channel", payload,
//	    job.WithCancellable(),
//	    job.WithTrackProgress(),
//	)
//
// Work units cooperate with the scheduler through a per-job execution
// context: they report fractional progress and poll for cancellation at
// their own safe checkpoints. Cancellation is advisory, never preemptive.
//
// The scheduler runs within a single server process. It offers no
// distributed coordination; durability comes from the chosen store
// (sqlite or redis) so queued work survives a restart.
package stoker
