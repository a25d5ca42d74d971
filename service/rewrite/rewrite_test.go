package rewrite_test

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinklegames/tinkle-proxy-service/service/rewrite"
)

const testBase = "https://example.com/dir/page.html"

var engine = rewrite.New(rewrite.DefaultProxyPrefix)

func TestUnitTestRewriteAttributesResolveAgainstBase(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"root relative", `<a href="/x">`, `<a href="/proxy/https://example.com/x">`},
		{"path relative", `<img src="img/a.png">`, `<img src="/proxy/https://example.com/dir/img/a.png">`},
		{"dot segments", `<img src="../b.png">`, `<img src="/proxy/https://example.com/b.png">`},
		{"protocol relative", `<script src="//cdn.test/a.js"></script>`, `<script src="/proxy/https://cdn.test/a.js"></script>`},
		{"absolute without path", `<a href="https://other.test">`, `<a href="/proxy/https://other.test/">`},
		{"query kept", `<form action="/search?q=1">`, `<form action="/proxy/https://example.com/search?q=1">`},
		{"single quotes kept", `<img SRC='a.png'>`, `<img SRC='/proxy/https://example.com/dir/a.png'>`},
		{"name case kept", `<a HREF="/x">`, `<a HREF="/proxy/https://example.com/x">`},
		{"separator kept", `<a href = "/x">`, `<a href = "/proxy/https://example.com/x">`},
		{"whitespace trimmed", `<a href=" /x ">`, `<a href="/proxy/https://example.com/x">`},
		{"poster", `<video poster="p.jpg">`, `<video poster="/proxy/https://example.com/dir/p.jpg">`},
		{"object data", `<object data="movie.swf">`, `<object data="/proxy/https://example.com/dir/movie.swf">`},
		{"formaction", `<button formaction="/go">`, `<button formaction="/proxy/https://example.com/go">`},
		{"manifest", `<html manifest="app.appcache">`, `<html manifest="/proxy/https://example.com/dir/app.appcache">`},
		{"site proxy directory", `<a href="/proxy/docs">`, `<a href="/proxy/https://example.com/proxy/docs">`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			output := engine.Rewrite(tc.input, testBase)
			assert.Contains(t, output, tc.expected)
		})
	}
}

func TestUnitTestRewriteLeavesSkippedValuesIdentical(t *testing.T) {
	testCases := []string{
		`<img src="data:image/png;base64,iVBORw0KGgo=">`,
		`<img src="DATA:image/png;base64,AAAA">`,
		`<video src="blob:https://example.com/1234-5678">`,
		`<a href="">`,
		`<a href="#top">`,
		`<a href="javascript:void(0)">`,
		`<a href="mailto:someone@example.com">`,
		`<a href="http://[::1">`,
		`<a href="%zz">`,
		`<img srcset="data:image/png;base64,AA 1x, b.png 2x">`,
	}

	for _, input := range testCases {
		t.Run(input, func(t *testing.T) {
			document := "<html><head><base href=\"https://example.com/\"></head><body>" + input + "</body></html>"
			assert.Equal(t, document, engine.Rewrite(document, testBase))
		})
	}
}

func TestUnitTestRewriteSrcset(t *testing.T) {
	output := engine.Rewrite(`<img srcset="a.png 1x, /b.png 2x,c.png">`, testBase)

	assert.Contains(t, output, `srcset="/proxy/https://example.com/dir/a.png 1x, /proxy/https://example.com/b.png 2x, /proxy/https://example.com/dir/c.png"`)
}

func TestUnitTestRewriteCSSURLs(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"unquoted", `<div style="background:url(img/bg.png)">`, `url(/proxy/https://example.com/dir/img/bg.png)`},
		{"double quoted", `<style>a{background:url("/bg.png")}</style>`, `url("/proxy/https://example.com/bg.png")`},
		{"single quoted", `<style>a{background:url('/bg.png')}</style>`, `url('/proxy/https://example.com/bg.png')`},
		{"padded", `<style>a{background:url( /bg.png )}</style>`, `url(/proxy/https://example.com/bg.png)`},
		{"upper case", `<style>a{background:URL(/bg.png)}</style>`, `url(/proxy/https://example.com/bg.png)`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Contains(t, engine.Rewrite(tc.input, testBase), tc.expected)
		})
	}

	for _, untouched := range []string{
		`url(data:image/png;base64,AAAA)`,
		`url("data:image/svg+xml;utf8,<svg></svg>")`,
		`url(#gradient)`,
		`url()`,
	} {
		t.Run(untouched, func(t *testing.T) {
			assert.Contains(t, engine.Rewrite("<style>a{fill:"+untouched+"}</style>", testBase), untouched)
		})
	}
}

func TestUnitTestRewriteCSSStylesheet(t *testing.T) {
	css := `@import url("../base.css"); body { background: url(img/bg.png) }`

	output := engine.RewriteCSS(css, "https://example.com/css/site.css")

	assert.Equal(t, `@import url("/proxy/https://example.com/base.css"); body { background: url(/proxy/https://example.com/css/img/bg.png) }`, output)
	assert.NotContains(t, output, "<base")
}

func TestUnitTestRewriteCSSEscapesUnquotedURLs(t *testing.T) {
	output := engine.RewriteCSS(`a{background:url(c.png)}`, "https://example.com/a(b)/site.css")

	assert.Equal(t, `a{background:url(/proxy/https://example.com/a%28b%29/c.png)}`, output)
}

func TestUnitTestRewriteInjectsExactlyOneBase(t *testing.T) {
	output := engine.Rewrite(`<html><head><title>t</title></head><body><a href="/x">x</a></body></html>`, testBase)

	assert.Equal(t, 1, strings.Count(output, "<base"))
	assert.Contains(t, output, `<head><base href="https://example.com/dir/page.html"><title>`)

	output = engine.Rewrite(`<html><HEAD lang="en"></HEAD></html>`, testBase)
	assert.Contains(t, output, `<HEAD lang="en"><base href="https://example.com/dir/page.html">`)

	output = engine.Rewrite(`<html><head></head></html>`, "https://example.com/?a=1&b=2")
	assert.Contains(t, output, `<base href="https://example.com/?a=1&amp;b=2">`)
}

func TestUnitTestRewriteKeepsExistingBase(t *testing.T) {
	document := `<html><head><base href="https://cdn.test/root/"></head><body><img src="a.png"></body></html>`

	output := engine.Rewrite(document, testBase)

	assert.Equal(t, 1, strings.Count(output, "<base"))
	assert.Contains(t, output, `<base href="https://cdn.test/root/">`)
	// relative values resolve against the fetched url, not the document base
	assert.Contains(t, output, `src="/proxy/https://example.com/dir/a.png"`)
}

func TestUnitTestRewriteIgnoresHeaderElement(t *testing.T) {
	output := engine.Rewrite(`<html><body><header>h</header></body></html>`, testBase)

	assert.NotContains(t, output, "<base")
}

func TestUnitTestRewriteWrapsEveryPass(t *testing.T) {
	document := `<html><head><link rel="stylesheet" href="site.css"></head>` +
		`<body style="background:url(bg.png)"><a href="/x">x</a></body></html>`

	once := engine.Rewrite(document, testBase)
	require.Contains(t, once, `href="/proxy/https://example.com/x"`)

	// the engine has no notion of already rewritten values, callers keep
	// rewritten documents away from it
	twice := engine.Rewrite(once, testBase)
	require.Contains(t, twice, `href="/proxy/https://example.com/proxy/https://example.com/x"`)
	require.Contains(t, twice, `url(/proxy/https://example.com/proxy/https://example.com/dir/bg.png)`)
	require.Equal(t, 1, strings.Count(twice, "<base"))
}

func TestUnitTestRewriteNeverPanics(t *testing.T) {
	inputs := []string{
		"",
		"<a href='",
		`<a href="`,
		"url(",
		"url('",
		`<head`,
		"<head><base",
		`<img srcset=",,, ,">`,
		"\x00\xff<a href=\"\xff\">",
		`<a href="http://%41:8080/">`,
	}

	for _, input := range inputs {
		assert.NotPanics(t, func() {
			engine.Rewrite(input, testBase)
			engine.Rewrite(input, "::not a url")
			engine.RewriteCSS(input, testBase)
		})
	}
}

func TestUnitTestRewriteURL(t *testing.T) {
	base, err := url.Parse(testBase)
	require.NoError(t, err)

	rewritten, ok := engine.RewriteURL("https://other.test", base)
	require.True(t, ok)
	require.Equal(t, "/proxy/https://other.test/", rewritten)

	_, ok = engine.RewriteURL("tel:+123", base)
	require.False(t, ok)

	custom := rewrite.New("/p/")
	rewritten, ok = custom.RewriteURL("x", base)
	require.True(t, ok)
	require.Equal(t, "/p/https://example.com/dir/x", rewritten)
	require.Equal(t, "/p/", custom.ProxyPrefix())
}
