// Package auth provides API-key authentication for the HTTP surface.
//
// APIKey(mode, header, key) returns middleware that validates the key from
// the named request header. When mode != "apikey" or key == "", every request
// passes through (local development with auth disabled). A missing or wrong
// key is rejected with 401 before the wrapped handler runs.
package auth
