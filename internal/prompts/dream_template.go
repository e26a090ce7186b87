package prompts

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// TemplateEngine manages prompt templates
type TemplateEngine struct {
	templates map[string]*Template
	mu        sync.RWMutex
}

// Template represents a prompt template with variables
type Template struct {
	Name        string `json:"name"`
	Content     string `json:"content"`
	Description string `json:"description"`
}

// DreamContext holds variables for template rendering
type DreamContext struct {
	// Narrative is the accumulated dream text so far (empty on the
	// first fragment of a session).
	Narrative string `json:"narrative"`
	// Fragment is the user's newly submitted piece of text.
	Fragment string `json:"fragment"`

	// Additional context
	Custom map[string]string `json:"custom,omitempty"`
}

// NewTemplateEngine creates a new template engine
func NewTemplateEngine() *TemplateEngine {
	return &TemplateEngine{
		templates: make(map[string]*Template),
	}
}

// RegisterTemplate registers a new template
func (e *TemplateEngine) RegisterTemplate(tmpl *Template) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.templates[tmpl.Name] = tmpl
	return nil
}

// GetTemplate retrieves a template by name
func (e *TemplateEngine) GetTemplate(name string) (*Template, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	tmpl, ok := e.templates[name]
	if !ok {
		return nil, fmt.Errorf("template not found: %s", name)
	}
	return tmpl, nil
}

// Render renders a template with the given context
func (e *TemplateEngine) Render(templateName string, ctx *DreamContext) (string, error) {
	tmpl, err := e.GetTemplate(templateName)
	if err != nil {
		return "", err
	}

	return e.renderTemplate(tmpl, ctx), nil
}

var varRegex = regexp.MustCompile(`\{\{(\w+)\}\}`)

// renderTemplate performs the actual template rendering
func (e *TemplateEngine) renderTemplate(tmpl *Template, ctx *DreamContext) string {
	result := varRegex.ReplaceAllStringFunc(tmpl.Content, func(match string) string {
		varName := varRegex.FindStringSubmatch(match)[1]
		value, ok := variableValue(ctx, varName)
		if ok {
			return value
		}
		return match // Keep placeholder if not found
	})

	// Handle custom variables
	if ctx.Custom != nil {
		for key, value := range ctx.Custom {
			placeholder := fmt.Sprintf("{{%s}}", key)
			result = strings.ReplaceAll(result, placeholder, value)
		}
	}

	return result
}

func variableValue(ctx *DreamContext, name string) (string, bool) {
	switch name {
	case "narrative":
		return ctx.Narrative, true
	case "fragment":
		return ctx.Fragment, true
	}
	return "", false
}

// Default template names used by the weaver client.
const (
	TemplateSystem       = "dream_system"
	TemplateOpening      = "dream_opening"
	TemplateContinuation = "dream_continuation"
)

const systemTemplate = `You are a dream weaver. The user is drifting through a dream and ` +
	`offers short fragments of what they see or do. You answer with the next segment ` +
	`of the dream narrative: vivid, second person, present tense, two to four sentences. ` +
	`Never break the dream to explain yourself, never address the user directly, and ` +
	`never repeat text from earlier in the dream.`

const openingTemplate = `The dream begins with this fragment:

{{fragment}}

Weave the opening segment of the dream.`

const continuationTemplate = `The dream so far:

{{narrative}}

The dreamer adds:

{{fragment}}

Weave the next segment of the dream, following on from what came before.`

// InitializeDefaultTemplates registers the built-in dream templates
func (e *TemplateEngine) InitializeDefaultTemplates() error {
	defaults := []*Template{
		{
			Name:        TemplateSystem,
			Content:     systemTemplate,
			Description: "System instruction for the dream weaver",
		},
		{
			Name:        TemplateOpening,
			Content:     openingTemplate,
			Description: "Prompt for the first fragment of a session",
		},
		{
			Name:        TemplateContinuation,
			Content:     continuationTemplate,
			Description: "Prompt for every later fragment",
		},
	}

	for _, tmpl := range defaults {
		if err := e.RegisterTemplate(tmpl); err != nil {
			return err
		}
	}
	return nil
}
