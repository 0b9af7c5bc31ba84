package mailing

import (
	"regexp"
	"strconv"
	"strings"
)

// LegibleTextColor replaces invisible text colors in outgoing mail.
const LegibleTextColor = "#111111"

var (
	rawTextPattern   = regexp.MustCompile(`(?is)(<style\b[^>]*>)(.*?)(</style\s*>)|<script\b[^>]*>.*?</script\s*>`)
	tagPattern       = regexp.MustCompile(`<[a-zA-Z][^>]*>`)
	styleAttrPattern = regexp.MustCompile(`(?i)(\sstyle\s*=\s*)(?:"([^"]*)"|'([^']*)')`)
	colorAttrPattern = regexp.MustCompile(`(?i)(\scolor\s*=\s*)("[^"]*"|'[^']*'|[^\s"'>]+)`)
	importantPattern = regexp.MustCompile(`(?i)!\s*important\s*$`)
	entityPattern    = regexp.MustCompile(`^&(?:#[0-9]+|#[xX][0-9a-fA-F]+|[a-zA-Z][a-zA-Z0-9]*);`)
)

// ForceLegibleText rewrites white or transparent text colors to
// LegibleTextColor. It covers color="..." attributes, color declarations in
// inline style attributes and color declarations inside <style> blocks.
// Only the offending value is replaced; every other byte of the input,
// including !important flags, entities and quoting, is preserved. Applying
// it twice yields the same result as applying it once.
func ForceLegibleText(html string) string {
	if html == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(html))
	last := 0
	for _, m := range rawTextPattern.FindAllStringSubmatchIndex(html, -1) {
		b.WriteString(rewriteTags(html[last:m[0]]))
		if m[2] >= 0 {
			// <style> block: opening tag, stylesheet, closing tag.
			b.WriteString(html[m[2]:m[3]])
			b.WriteString(rewriteDeclarations(html[m[4]:m[5]], false))
			b.WriteString(html[m[6]:m[7]])
		} else {
			b.WriteString(html[m[0]:m[1]])
		}
		last = m[1]
	}
	b.WriteString(rewriteTags(html[last:]))
	return b.String()
}

func rewriteTags(s string) string {
	return tagPattern.ReplaceAllStringFunc(s, func(tag string) string {
		tag = replaceSubmatches(tag, styleAttrPattern, func(sub []int) string {
			prefix := tag[sub[2]:sub[3]]
			if sub[4] >= 0 {
				return prefix + `"` + rewriteDeclarations(tag[sub[4]:sub[5]], true) + `"`
			}
			return prefix + `'` + rewriteDeclarations(tag[sub[6]:sub[7]], true) + `'`
		})
		return replaceSubmatches(tag, colorAttrPattern, func(sub []int) string {
			prefix, raw := tag[sub[2]:sub[3]], tag[sub[4]:sub[5]]
			quote, value := `"`, raw
			if raw[0] == '"' || raw[0] == '\'' {
				quote, value = raw[:1], raw[1:len(raw)-1]
			}
			if !isInvisibleColor(value) {
				return tag[sub[0]:sub[1]]
			}
			return prefix + quote + LegibleTextColor + quote
		})
	})
}

// replaceSubmatches is ReplaceAllStringFunc with access to submatch offsets.
func replaceSubmatches(s string, re *regexp.Regexp, fn func(sub []int) string) string {
	matches := re.FindAllStringSubmatchIndex(s, -1)
	if matches == nil {
		return s
	}
	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(s[last:m[0]])
		b.WriteString(fn(m))
		last = m[1]
	}
	b.WriteString(s[last:])
	return b.String()
}

// rewriteDeclarations walks CSS text and rewrites invisible color values.
// Declarations are split on top-level ';', '{' and '}', skipping quoted
// strings, comments and parenthesized groups. With entities set, HTML
// character references such as &quot; are kept whole so their ';' does not
// end a declaration.
func rewriteDeclarations(css string, entities bool) string {
	var b strings.Builder
	b.Grow(len(css))
	start, depth := 0, 0
	var quote byte
	for i := 0; i < len(css); i++ {
		c := css[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '/' && i+1 < len(css) && css[i+1] == '*':
			end := strings.Index(css[i+2:], "*/")
			if end < 0 {
				i = len(css) - 1
			} else {
				i += end + 3
			}
		case c == '(':
			depth++
		case c == ')':
			if depth > 0 {
				depth--
			}
		case c == '&' && entities:
			if loc := entityPattern.FindStringIndex(css[i:]); loc != nil {
				i += loc[1] - 1
			}
		case depth == 0 && (c == ';' || c == '{' || c == '}'):
			b.WriteString(rewriteDeclaration(css[start:i]))
			b.WriteByte(c)
			start = i + 1
		}
	}
	if start < len(css) {
		b.WriteString(rewriteDeclaration(css[start:]))
	}
	return b.String()
}

func rewriteDeclaration(decl string) string {
	colon := strings.IndexByte(decl, ':')
	if colon < 0 || !strings.EqualFold(strings.TrimSpace(decl[:colon]), "color") {
		return decl
	}
	value := decl[colon+1:]
	core := value
	if loc := importantPattern.FindStringIndex(value); loc != nil {
		core = value[:loc[0]]
	}
	if !isInvisibleColor(core) {
		return decl
	}
	lead := len(core) - len(strings.TrimLeft(core, " \t\r\n\f"))
	trail := len(strings.TrimRight(core, " \t\r\n\f"))
	return decl[:colon+1] + core[:lead] + LegibleTextColor + core[trail:] + value[len(core):]
}

func isInvisibleColor(v string) bool {
	n := strings.ToLower(strings.Join(strings.Fields(v), ""))
	switch n {
	case "#fff", "#ffff", "#ffffff", "#ffffffff", "white", "transparent", "rgb(255,255,255)":
		return true
	}
	const rgbaWhite = "rgba(255,255,255,"
	if strings.HasPrefix(n, rgbaWhite) && strings.HasSuffix(n, ")") {
		alpha, err := strconv.ParseFloat(n[len(rgbaWhite):len(n)-1], 64)
		return err == nil && alpha == 1
	}
	return false
}
