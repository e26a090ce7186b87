package engine

import (
	"context"
	"log"
	"strings"
	"sync"

	"go.uber.org/atomic"

	"echoweaver/server/internal/interfaces"
)

// Fallback messages shown when a service fails without saying why.
const (
	narrativeFallbackError = "Narrative weaving failed."
	imageFallbackError     = "Image generation failed."
)

// DreamController owns the state of a single dream session and
// orchestrates the two generation services. All mutation goes through
// SubmitFragment; everything else only reads snapshots.
type DreamController struct {
	narrative interfaces.NarrativeService
	images    interfaces.ImageService
	store     interfaces.ImageStore

	// busy gates the whole narrative+image chain: at most one chain is
	// in flight, and a second submit while busy is a silent no-op.
	busy *atomic.Bool

	mu            sync.RWMutex
	phase         interfaces.Phase
	narrativeText string
	imageURL      string
	lastError     string

	onChange func(interfaces.DreamSnapshot)
}

// NewDreamController creates a controller ready to weave, starting on
// the welcome screen.
func NewDreamController(
	narrative interfaces.NarrativeService,
	images interfaces.ImageService,
	store interfaces.ImageStore,
) *DreamController {
	return &DreamController{
		narrative: narrative,
		images:    images,
		store:     store,
		busy:      atomic.NewBool(false),
		phase:     interfaces.PhaseWelcome,
	}
}

// NewBlockedDreamController creates a controller that is permanently
// blocked for this session, showing reason instead of the main UI. Used
// when the required credential is missing at startup.
func NewBlockedDreamController(reason string) *DreamController {
	return &DreamController{
		busy:      atomic.NewBool(false),
		phase:     interfaces.PhaseBlocked,
		lastError: reason,
	}
}

// OnChange registers a callback invoked after every observable state
// transition. Must be called before the controller starts receiving
// fragments.
func (c *DreamController) OnChange(fn func(interfaces.DreamSnapshot)) {
	c.onChange = fn
}

// Snapshot returns a copy of the current session state.
func (c *DreamController) Snapshot() interfaces.DreamSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return interfaces.DreamSnapshot{
		Phase:     c.phase,
		Busy:      c.busy.Load(),
		Narrative: c.narrativeText,
		ImageURL:  c.imageURL,
		LastError: c.lastError,
	}
}

// SubmitFragment runs one weave: narrative service first, then the
// image service with the newly produced segment as prompt. Submitting
// while blocked, while a chain is in flight, or with a blank fragment
// is a silent no-op so UI double-submits never surface as errors.
//
// The narrative commit is observable before image generation completes,
// and an image failure does not roll it back.
func (c *DreamController) SubmitFragment(ctx context.Context, fragment string) {
	if strings.TrimSpace(fragment) == "" {
		return
	}

	c.mu.RLock()
	blocked := c.phase == interfaces.PhaseBlocked
	c.mu.RUnlock()
	if blocked {
		return
	}

	if !c.busy.CompareAndSwap(false, true) {
		return
	}

	c.mu.Lock()
	c.lastError = ""
	existing := c.narrativeText
	c.mu.Unlock()
	c.notify()

	segment, err := c.narrative.Weave(ctx, existing, fragment)
	if err != nil {
		log.Printf("[Dream] Narrative weave failed: %v", err)
		c.settle(displayError(err, narrativeFallbackError))
		return
	}

	c.mu.Lock()
	if c.narrativeText == "" {
		c.narrativeText = segment
	} else {
		c.narrativeText = c.narrativeText + "\n\n" + segment
	}
	c.phase = interfaces.PhaseActive
	c.mu.Unlock()
	c.notify()

	// The illustration prompt is the new segment only, never the whole
	// accumulated narrative.
	imageBase64, err := c.images.Render(ctx, segment)
	if err != nil {
		log.Printf("[Dream] Image generation failed: %v", err)
		c.settle(displayError(err, imageFallbackError))
		return
	}

	url, err := c.store.Put(ctx, imageBase64)
	if err != nil {
		log.Printf("[Dream] Storing image failed: %v", err)
		c.settle(displayError(err, imageFallbackError))
		return
	}

	c.mu.Lock()
	c.imageURL = url
	c.mu.Unlock()
	c.settle("")
}

// settle records the terminal outcome of a chain and releases the busy
// flag. Every exit path of SubmitFragment past the busy acquisition
// goes through here exactly once.
func (c *DreamController) settle(errMsg string) {
	c.mu.Lock()
	if errMsg != "" {
		c.lastError = errMsg
	}
	c.mu.Unlock()
	c.busy.Store(false)
	c.notify()
}

func (c *DreamController) notify() {
	if c.onChange != nil {
		c.onChange(c.Snapshot())
	}
}

// displayError converts a service error into the string shown to the
// user: the service's own message when it has one, else the fallback.
func displayError(err error, fallback string) string {
	if err == nil || strings.TrimSpace(err.Error()) == "" {
		return fallback
	}
	return err.Error()
}
