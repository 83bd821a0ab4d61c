// Package credentials turns a username and password into an HTTP Basic token.
package credentials

import "encoding/base64"

// Token is the base64 form of "username:password". It prints as [redacted] so it
// can never end up in a log line by accident; use Value or Header to read it.
type Token struct {
	value string
}

// Encode encodes the UTF-8 bytes of "username:password" with standard base64.
// Empty strings are accepted.
func Encode(username, password string) Token {
	return Token{value: base64.StdEncoding.EncodeToString([]byte(username + ":" + password))}
}

func (t Token) Value() string {
	return t.value
}

// Header returns the Authorization header value.
func (t Token) Header() string {
	return "Basic " + t.value
}

func (t Token) String() string {
	return "[redacted]"
}

func (t Token) GoString() string {
	return "credentials.Token{[redacted]}"
}
