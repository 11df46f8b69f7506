// Package auth issues and checks the bearer tokens that guard Starport's
// HTTP API.
//
// Tokens are HS256 JWTs signed with the configured secret and carry one of
// two roles: viewer (read-only) or operator (may start and stop the server
// and drivers). They are minted offline with `starport token` and handed to
// the planetarium or sequencing client that needs them.
package auth
