package authkit

import (
	"io"

	"github.com/authkit-dev/authkit/internal/audit"
)

// AuditEvent and AuditSink re-export the audit primitives so callers can
// supply sinks without reaching into an internal path.
type (
	AuditEvent = audit.Event
	AuditSink  = audit.Sink
)

// NewJSONAuditSink returns a sink that writes one JSON object per event.
func NewJSONAuditSink(w io.Writer) AuditSink {
	return audit.NewJSONWriterSink(w)
}
