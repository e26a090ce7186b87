package interfaces

import "context"

// Phase is the coarse state of a dream session.
type Phase string

const (
	// PhaseBlocked means the server is missing its credential; the session
	// can never leave this phase without a configuration reload.
	PhaseBlocked Phase = "blocked"
	// PhaseWelcome means no narrative has been woven yet.
	PhaseWelcome Phase = "welcome"
	// PhaseActive means at least one segment has been committed.
	PhaseActive Phase = "active"
)

// DreamSnapshot is the read-only view of a dream session that the
// browser view renders from. It is a value copy; mutating it has no
// effect on the session.
type DreamSnapshot struct {
	Phase     Phase  `json:"phase"`
	Busy      bool   `json:"busy"`
	Narrative string `json:"narrative"`
	ImageURL  string `json:"image_url,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

// NarrativeService produces the next narrative segment from the
// accumulated narrative and a user fragment. Implementations must not
// carry side effects beyond returning text.
type NarrativeService interface {
	Weave(ctx context.Context, narrative, fragment string) (string, error)
}

// ImageService renders an illustration for a text prompt and returns
// the image as base64-encoded PNG bytes.
type ImageService interface {
	Render(ctx context.Context, prompt string) (string, error)
}

// ImageStore persists a base64-encoded image and returns a URL path the
// view can load it from.
type ImageStore interface {
	Put(ctx context.Context, imageBase64 string) (string, error)
}
