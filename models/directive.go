package models

// DirectiveKind enumerates the swarm-wide control directives.
type DirectiveKind string

const (
	DirectivePause     DirectiveKind = "pause"
	DirectiveResume    DirectiveKind = "resume"
	DirectiveTerminate DirectiveKind = "terminate"
	DirectiveCleanup   DirectiveKind = "cleanup"
)

// KnownDirectives lists every directive kind agents act on.
var KnownDirectives = []DirectiveKind{DirectivePause, DirectiveResume, DirectiveTerminate, DirectiveCleanup}

// ValidDirective reports whether kind is a recognised directive.
func ValidDirective(kind DirectiveKind) bool {
	for _, k := range KnownDirectives {
		if k == kind {
			return true
		}
	}
	return false
}

// DirectivePayload is the payload of a broadcast control message. The
// DirectiveID is stable across re-broadcasts of the same directive, which is
// what makes repeated announcements idempotent at the mailbox boundary.
type DirectivePayload struct {
	DirectiveID string        `json:"directiveId"`
	Kind        DirectiveKind `json:"kind"`
	Objective   string        `json:"objective,omitempty"`
	Actions     []string      `json:"actions,omitempty"`
	Status      string        `json:"status,omitempty"`
	Priority    int           `json:"priority,omitempty"`
}
