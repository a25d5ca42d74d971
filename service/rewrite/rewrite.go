package rewrite

import (
	"html"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const DefaultProxyPrefix = "/proxy/"

// AttributeNames are the resource referencing attributes rewritten by the Engine
var AttributeNames = []string{
	"href",
	"src",
	"action",
	"data",
	"poster",
	"srcset",
	"cite",
	"formaction",
	"icon",
	"manifest",
	"archive",
}

// groups: 1 name, 2 separator, 3 double quoted value, 4 single quoted value
var attributePattern = regexp.MustCompile(`(?i)\b(` + strings.Join(AttributeNames, "|") + `)(\s*=\s*)(?:"([^"]*)"|'([^']*)')`)

// groups: 1 double quoted, 2 single quoted, 3 unquoted
var cssURLPattern = regexp.MustCompile(`(?i)\burl\(\s*(?:"([^"]*)"|'([^']*)'|([^"'()\s]*))\s*\)`)

var (
	baseTagPattern = regexp.MustCompile(`(?is)<base\b[^>]*>`)
	headTagPattern = regexp.MustCompile(`(?i)<head(?:\s[^>]*)?>`)
)

// an unquoted css url ends at any of these
var unquotedCSSEscaper = strings.NewReplacer(
	"(", "%28",
	")", "%29",
	"'", "%27",
	`"`, "%22",
	" ", "%20",
	"\t", "%09",
	"\n", "%0A",
	"\r", "%0D",
	`\`, "%5C",
)

// Engine rewrites resource references inside HTML and CSS documents
// so that they route back through the proxy prefix.
//
// The engine works on text with regular expressions, it is not an HTML
// or CSS parser: attribute-like text inside scripts or comments is
// rewritten as well.
type Engine struct {
	proxyPrefix string
}

func New(proxyPrefix string) *Engine {
	return &Engine{
		proxyPrefix: proxyPrefix,
	}
}

func (e *Engine) ProxyPrefix() string {
	return e.proxyPrefix
}

// Rewrite returns document with every resource reference resolved against base
// and routed through the proxy prefix, and a base element pointing at base injected
// when the document has none. A base element already in the document is kept but
// never used for resolution. Values that can't be resolved are left untouched.
func (e *Engine) Rewrite(document string, base string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return document
	}

	rewritten := e.rewriteAttributes(document, baseURL)
	rewritten = e.rewriteCSS(rewritten, baseURL)

	if !hasBase(document) {
		rewritten = injectBase(rewritten, base)
	}

	return rewritten
}

// RewriteCSS rewrites every url(...) reference of a stylesheet
func (e *Engine) RewriteCSS(css string, base string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return css
	}

	return e.rewriteCSS(css, baseURL)
}

// RewriteURL resolves value against base and prefixes it with the proxy prefix.
// ok is false when value must be left as is.
func (e *Engine) RewriteURL(value string, base *url.URL) (rewritten string, ok bool) {
	value = strings.TrimSpace(value)
	if value == "" || strings.HasPrefix(value, "#") {
		return "", false
	}

	lower := strings.ToLower(value)
	if strings.HasPrefix(lower, "data:") || strings.HasPrefix(lower, "blob:") {
		return "", false
	}

	resolved, err := base.Parse(value)
	if err != nil {
		return "", false
	}

	// javascript:, mailto: and friends stay as they are
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return "", false
	}

	if resolved.Path == "" && resolved.Opaque == "" {
		resolved.Path = "/"
	}

	return e.proxyPrefix + resolved.String(), true
}

func (e *Engine) rewriteSrcset(value string, base *url.URL) (string, bool) {
	// data urls may contain commas, leave such sets alone
	if strings.Contains(strings.ToLower(value), "data:") {
		return "", false
	}

	candidates := strings.Split(value, ",")
	changed := false
	for i, candidate := range candidates {
		fields := strings.Fields(candidate)
		if len(fields) == 0 {
			continue
		}

		rewritten, ok := e.RewriteURL(fields[0], base)
		if !ok {
			candidates[i] = strings.TrimSpace(candidate)
			continue
		}

		fields[0] = rewritten
		candidates[i] = strings.Join(fields, " ")
		changed = true
	}

	if !changed {
		return "", false
	}

	return strings.Join(candidates, ", "), true
}

func (e *Engine) rewriteAttributes(document string, base *url.URL) string {
	// base elements keep pointing at the true origin
	protected := baseTagPattern.FindAllStringIndex(document, -1)

	return replaceAllSubmatchFunc(attributePattern, document, func(match []int) string {
		original := document[match[0]:match[1]]

		for _, span := range protected {
			if match[0] >= span[0] && match[0] < span[1] {
				return original
			}
		}

		name := document[match[2]:match[3]]
		separator := document[match[4]:match[5]]

		quote := `"`
		var value string
		if match[6] >= 0 {
			value = document[match[6]:match[7]]
		} else {
			quote = `'`
			value = document[match[8]:match[9]]
		}

		var rewritten string
		var ok bool
		if strings.EqualFold(name, "srcset") {
			rewritten, ok = e.rewriteSrcset(value, base)
		} else {
			rewritten, ok = e.RewriteURL(value, base)
		}
		if !ok {
			return original
		}

		return name + separator + quote + rewritten + quote
	})
}

func (e *Engine) rewriteCSS(text string, base *url.URL) string {
	return replaceAllSubmatchFunc(cssURLPattern, text, func(match []int) string {
		original := text[match[0]:match[1]]

		var quote, value string
		switch {
		case match[2] >= 0:
			quote, value = `"`, text[match[2]:match[3]]
		case match[4] >= 0:
			quote, value = `'`, text[match[4]:match[5]]
		default:
			value = text[match[6]:match[7]]
		}

		rewritten, ok := e.RewriteURL(value, base)
		if !ok {
			return original
		}

		if quote == "" {
			rewritten = unquotedCSSEscaper.Replace(rewritten)
		}

		return "url(" + quote + rewritten + quote + ")"
	})
}

// hasBase reports whether document has a base element
func hasBase(document string) bool {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(document))
	if err != nil {
		return baseTagPattern.MatchString(document)
	}

	return doc.Find("base").Length() > 0
}

// injectBase places a base element right after the first head opening tag,
// documents without one are returned unchanged
func injectBase(document string, base string) string {
	loc := headTagPattern.FindStringIndex(document)
	if loc == nil {
		return document
	}

	return document[:loc[1]] + `<base href="` + html.EscapeString(base) + `">` + document[loc[1]:]
}

// replaceAllSubmatchFunc is regexp.ReplaceAllStringFunc with access to submatch indexes
func replaceAllSubmatchFunc(re *regexp.Regexp, src string, repl func(match []int) string) string {
	matches := re.FindAllStringSubmatchIndex(src, -1)
	if len(matches) == 0 {
		return src
	}

	var b strings.Builder
	b.Grow(len(src))

	last := 0
	for _, match := range matches {
		b.WriteString(src[last:match[0]])
		b.WriteString(repl(match))
		last = match[1]
	}
	b.WriteString(src[last:])

	return b.String()
}
