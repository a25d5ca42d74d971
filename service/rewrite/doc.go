// Package rewrite makes fetched documents route their resource loads back through the proxy
//
// Engine.Rewrite transforms an HTML document in three passes:
// - resource attributes (href, src, srcset, ...) are resolved against the fetched URL and prefixed
// - CSS url(...) references anywhere in the document get the same treatment
// - a base element pointing at the true origin is injected when the document has none
//
// Fragment-only references (#top) are left as they are so in-page navigation keeps
// working without a round trip through the proxy. Every other http(s) reference is
// wrapped, including paths that already start with the proxy prefix.
//
// Classify maps a content type to the Class that decides which of these passes (if any) run.
package rewrite
