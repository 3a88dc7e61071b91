package draft

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/osteele/liquid"
)

// DefaultFollowUpTemplate is used when no template is configured.
const DefaultFollowUpTemplate = `<p>Hi {{ contact_name | default: "there" }},</p>
<p>I wanted to follow up on my previous note{% if previous_subject != "" %} about "{{ previous_subject }}"{% endif %}. I remain very interested and would welcome the chance to talk.</p>
<p>Best regards</p>`

// TemplateDrafter renders follow-ups from a Liquid template. It serves
// as the drafting collaborator when no API key is configured.
type TemplateDrafter struct {
	engine *liquid.Engine
	source string

	mu       sync.Mutex
	compiled *liquid.Template
}

// NewTemplateDrafter creates a drafter over the given Liquid source. An
// empty source falls back to DefaultFollowUpTemplate.
func NewTemplateDrafter(source string) *TemplateDrafter {
	if source == "" {
		source = DefaultFollowUpTemplate
	}
	engine := liquid.NewEngine()
	engine.RegisterFilter("default", func(value interface{}, defaultVal string) interface{} {
		if value == nil {
			return defaultVal
		}
		if s := fmt.Sprintf("%v", value); s == "" || s == "<nil>" {
			return defaultVal
		}
		return value
	})
	return &TemplateDrafter{engine: engine, source: source}
}

// Draft renders the template with the previous-message bindings.
func (d *TemplateDrafter) Draft(_ context.Context, prev Previous, opts Options) (*Result, error) {
	tpl, err := d.template()
	if err != nil {
		return nil, err
	}

	bindings := map[string]interface{}{
		"contact_name":     strings.TrimSpace(prev.ContactName),
		"previous_subject": prev.PreviousSubject,
	}
	if opts.PreserveThreadContext {
		bindings["previous_body"] = prev.PreviousBody
	} else {
		bindings["previous_body"] = ""
	}

	out, err := tpl.RenderString(bindings)
	if err != nil {
		return nil, fmt.Errorf("render follow-up template: %w", err)
	}
	return &Result{Subject: reSubject(prev.PreviousSubject), BodyHTML: out}, nil
}

func (d *TemplateDrafter) template() (*liquid.Template, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.compiled != nil {
		return d.compiled, nil
	}
	tpl, err := d.engine.ParseString(d.source)
	if err != nil {
		return nil, fmt.Errorf("parse follow-up template: %w", err)
	}
	d.compiled = tpl
	return tpl, nil
}
