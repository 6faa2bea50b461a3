package job

import "context"

// ProgressFunc reports task progress as a percentage with an optional stage
// label such as "rendering" or "uploading".
type ProgressFunc func(percent int, stage string)

// TaskExecutor runs the opaque render task. Cancellation of ctx is the
// cancel signal; a well-behaved executor returns promptly once it fires.
type TaskExecutor interface {
	Execute(ctx context.Context, payload []byte, progress ProgressFunc) error
}

// ExecutorFunc adapts a function to TaskExecutor.
type ExecutorFunc func(ctx context.Context, payload []byte, progress ProgressFunc) error

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, payload []byte, progress ProgressFunc) error {
	return f(ctx, payload, progress)
}
