// Package mailing turns a campaign template into the per-recipient message
// that the send worker hands to SMTP: placeholder substitution, the
// auto-inserted call-to-action, the open pixel, legibility cleanup and the
// plain-text alternative.
//
// Everything here is pure. No function performs I/O, and identical inputs
// always produce identical output.
package mailing

import (
	"fmt"
	"html"
	"regexp"

	"github.com/phishsense/sendjobs/internal/domain"
)

// Composed is a rendered message body.
type Composed struct {
	HTML string
	Text string
}

var bodyClosePattern = regexp.MustCompile(`(?i)</body\s*>`)

// Compose renders tpl for one recipient.
//
// Every landing placeholder becomes landingURL. A body without one gets the
// template's call-to-action block appended when auto-insert is enabled. The
// open pixel placeholder becomes openPixelURL; when the body has no pixel
// placeholder and openPixelURL is set, an invisible 1x1 image is appended.
// Generated blocks are placed before </body> when the body has one.
func Compose(tpl *domain.Template, landingURL, openPixelURL string) (Composed, error) {
	if tpl == nil {
		return Composed{}, fmt.Errorf("compose: nil template")
	}

	body := tpl.Body
	hasLanding := CountToken(body, TokenLandingURL) > 0
	hasPixel := CountToken(body, TokenOpenPixelURL) > 0

	body = ReplaceToken(body, TokenLandingURL, landingURL)
	body = ReplaceToken(body, TokenOpenPixelURL, openPixelURL)

	// Author content only; the generated button styles its own text.
	body = ForceLegibleText(body)

	if !hasLanding && tpl.AutoInsert.Enabled {
		block, err := RenderCTA(landingURL, tpl.AutoInsert)
		if err != nil {
			return Composed{}, err
		}
		body = insertBeforeBodyClose(body, block)
	}
	if !hasPixel && openPixelURL != "" {
		body = insertBeforeBodyClose(body, openPixelTag(openPixelURL))
	}

	return Composed{HTML: body, Text: StripHTML(body)}, nil
}

func openPixelTag(src string) string {
	return `<img src="` + html.EscapeString(src) + `" width="1" height="1" alt="" style="display:none;border:0;width:1px;height:1px;" />`
}

// insertBeforeBodyClose places block before the last </body>, or appends it.
func insertBeforeBodyClose(body, block string) string {
	locs := bodyClosePattern.FindAllStringIndex(body, -1)
	if len(locs) == 0 {
		return body + block
	}
	at := locs[len(locs)-1][0]
	return body[:at] + block + body[at:]
}
