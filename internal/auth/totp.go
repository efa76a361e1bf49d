package auth

import (
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// TOTPAuthenticator is the pluggable improved authenticator spec §9 calls
// for as a required follow-up to the legacy MD5 scheme. It validates a
// time-based one-time code the same way the teacher's mdengine generates
// one for its own broker login, but in reverse: here the operator
// supplies the code and the server validates it against a shared secret.
type TOTPAuthenticator struct {
	Secret string
}

// Authenticate ignores username — the TOTP secret alone identifies the
// operator account — and validates response as a 6-digit code with a
// ±1 period skew to tolerate clock drift.
func (a TOTPAuthenticator) Authenticate(_ string, response string) bool {
	valid, err := totp.ValidateCustom(response, a.Secret, time.Now(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false
	}
	return valid
}
