package auth

import "time"

// Request is a signed-credential payload ready for submission to a
// broker's authenticate operation. Every field is produced by the
// Provider and treated as opaque by the core.
type Request struct {
	// Mac is the signed credential (hash of secret + connection details).
	Mac string

	// Client is the requesting client identity.
	Client string

	// Dest is the destination endpoint the credential is valid for.
	Dest string

	// Rand is the challenge random value included in the signature.
	Rand string

	// Time is the timestamp the credential was minted at.
	Time time.Time

	// Level is the requested access level.
	Level string

	// End is the credential expiry time.
	End time.Time
}

// Provider computes a signed-credential Request from connection details.
//
// Implementations own the hash algorithm and any challenge handling;
// the core only calls Provider and forwards the result.
type Provider func(endpoint, user, secret string, now time.Time) Request
