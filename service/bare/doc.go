// Package bare relays intercepted requests through one of the configured
// bare servers. A bare server is a relay that fetches whatever url is appended
// to its own url prefix, so the upstream url of a relayed request is the
// selected server prefix followed by the absolute target url.
package bare
