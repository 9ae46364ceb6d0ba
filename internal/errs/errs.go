// Package errs defines the semantic error kinds used across codelens'
// subsystems. Each kind is a sentinel that call sites wrap with context via
// fmt.Errorf("...: %w", err) and callers unwrap with errors.Is/errors.As.
package errs

import "errors"

var (
	// ErrConfig marks a bad configuration value or workspace URI. Fatal at startup.
	ErrConfig = errors.New("config error")

	// ErrIO marks a per-file read/open failure. Recoverable: logged and skipped.
	ErrIO = errors.New("io error")

	// ErrStore marks a vector store operation failure. Fatal inside the Indexer.
	ErrStore = errors.New("store error")

	// ErrTransport marks an LSP send/recv failure. Recoverable as an empty result.
	ErrTransport = errors.New("transport error")

	// ErrIntegrity marks a ChunkId hash mismatch on deserialize. The record is dropped.
	ErrIntegrity = errors.New("integrity error")

	// ErrUser marks a tool call made before the pipeline is ready. Returned as a
	// soft error in the tool result payload, never as a transport failure.
	ErrUser = errors.New("user error")

	// ErrTemplate marks a template rendering failure, surfaced as an internal error.
	ErrTemplate = errors.New("template error")
)

// Kind reports the broad error kind an error belongs to, for logging and
// metrics. Returns "" if err does not wrap one of the sentinels above.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrConfig):
		return "ConfigError"
	case errors.Is(err, ErrIO):
		return "IoError"
	case errors.Is(err, ErrStore):
		return "StoreError"
	case errors.Is(err, ErrTransport):
		return "TransportError"
	case errors.Is(err, ErrIntegrity):
		return "IntegrityError"
	case errors.Is(err, ErrUser):
		return "UserError"
	case errors.Is(err, ErrTemplate):
		return "TemplateError"
	default:
		return ""
	}
}
