// Package auth implements operator authentication (spec §6 "POST
// /api/auth", §9 "Secret material and weak auth"). The spec mandates a
// literal MD5(user + ":" + shared_secret) verifier; this package isolates
// that behind an Authenticator interface so a stronger scheme can be
// swapped in without touching the operator HTTP layer.
package auth

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
)

// Authenticator verifies a username/response pair against some secret
// material and reports whether the caller is who they claim to be.
type Authenticator interface {
	Authenticate(username, response string) bool
}

// MD5Authenticator implements the spec-mandated verifier unchanged:
// MD5(username + ":" + sharedSecret), hex-encoded. Flagged in spec §9 as
// cryptographically weak; kept for wire compatibility with the legacy
// operator application.
type MD5Authenticator struct {
	SharedSecret string
}

// Authenticate reports whether response equals the expected MD5 digest
// for username, using a constant-time comparison to avoid a timing
// side-channel on an already-weak scheme.
func (a MD5Authenticator) Authenticate(username, response string) bool {
	sum := md5.Sum([]byte(username + ":" + a.SharedSecret))
	expected := hex.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(expected), []byte(response)) == 1
}
