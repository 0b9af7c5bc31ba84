package mailing

import (
	"fmt"

	"github.com/osteele/liquid"

	"github.com/phishsense/sendjobs/internal/domain"
)

const (
	ctaLinkSource = `<p><a href="{{ href | escape }}"{% if new_tab %} target="_blank" rel="noopener noreferrer"{% endif %}>{{ label | escape }}</a></p>`

	ctaButtonSource = `<p><a href="{{ href | escape }}"{% if new_tab %} target="_blank" rel="noopener noreferrer"{% endif %}` +
		` style="display:inline-block; padding:10px 18px; border-radius:999px; background:#2563eb; color:#ffffff; text-decoration:none; font-weight:600;">` +
		`{{ label | escape }}</a></p>`
)

// ctaTemplates holds the parsed call-to-action blocks. Parsed templates are
// safe to render concurrently.
type ctaTemplates struct {
	link   *liquid.Template
	button *liquid.Template
}

var cta = mustParseCTA()

func mustParseCTA() ctaTemplates {
	engine := liquid.NewEngine()
	link, err := engine.ParseString(ctaLinkSource)
	if err != nil {
		panic(fmt.Sprintf("mailing: parse link CTA: %v", err))
	}
	button, err := engine.ParseString(ctaButtonSource)
	if err != nil {
		panic(fmt.Sprintf("mailing: parse button CTA: %v", err))
	}
	return ctaTemplates{link: link, button: button}
}

// RenderCTA renders the landing-link block for a body that carries no
// landing placeholder.
func RenderCTA(landingURL string, cfg domain.AutoInsertConfig) (string, error) {
	cfg = cfg.Resolve()
	tpl := cta.link
	if cfg.Kind == domain.CTAButton {
		tpl = cta.button
	}
	out, err := tpl.RenderString(map[string]interface{}{
		"href":    landingURL,
		"label":   cfg.Label,
		"new_tab": cfg.NewTab,
	})
	if err != nil {
		return "", fmt.Errorf("render CTA: %w", err)
	}
	return out, nil
}
