// Package direct fetches proxied destinations straight from their origin,
// presenting itself as a desktop browser.
//
// EpoxyAdapter relays the payload as is. RewritingAdapter routes the
// resource references of HTML and CSS payloads back through the proxy.
package direct
