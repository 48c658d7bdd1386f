// Package auth defines the credential collaborator boundary.
//
// bridgemux does not compute credentials. An external Provider is given
// the endpoint, user, secret, and current time, and returns a Request
// whose fields, including the signed MAC, are opaque to this core.
// The core forwards the Request to the transport's Authenticate
// operation untouched.
package auth
