package result

// Well-known message keys. Report renderers and stores rely on these keys
// to extract machine-readable fields without knowing how a node was produced.
const (
	// KeyStdout holds captured standard output.
	KeyStdout = "stdout"

	// KeyStderr holds captured standard error.
	KeyStderr = "stderr"

	// KeyErrorMessage holds the text of the error that completed the node.
	KeyErrorMessage = "error-message"

	// KeyStackTrace holds a captured goroutine stack.
	KeyStackTrace = "stack-trace"

	// KeyDuration holds the elapsed time, set on completion.
	KeyDuration = "duration"

	// KeyStartTime holds the RFC 3339 start timestamp.
	KeyStartTime = "start-time"

	// KeyExpected holds the declared value of a compared attribute.
	KeyExpected = "expected"

	// KeyActual holds the live value of a compared attribute.
	KeyActual = "actual"

	// KeyValue holds the value of an attribute that matched or was written.
	KeyValue = "value"

	// KeyReason holds human readable text explaining a FAILURE.
	KeyReason = "reason"

	// KeyTarget identifies the live object an operation addressed.
	KeyTarget = "target"

	// KeyModule identifies the deployed module an operation addressed.
	KeyModule = "module"

	// KeyOperation names the operation that produced the node.
	KeyOperation = "operation"
)
