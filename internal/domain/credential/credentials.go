// Package credential models tenant API keys and the ERP credentials they
// carry. Credentials are stored only in machine-bound encrypted form.
package credential

import (
	"fmt"

	"github.com/erp/catalog-exchange/internal/domain/shared"
)

const redacted = "[REDACTED]"

// Credential errors. ErrCredentialUnavailable deliberately carries no detail.
var (
	ErrCredentialUnavailable = shared.NewDomainError("CREDENTIAL_UNAVAILABLE", "credentials are unavailable")
	ErrAPIKeyRevoked         = shared.NewDomainError("API_KEY_REVOKED", "API key has been revoked")
	ErrInvalidAPIKey         = shared.NewDomainError("UNAUTHORIZED", "invalid API key")
)

// ErpCredentials are decrypted ERP login details. They live only for the
// duration of one call; every textual rendering is redacted.
type ErpCredentials struct {
	username []byte
	password []byte
}

// NewErpCredentials takes ownership of the byte slices
func NewErpCredentials(username, password []byte) ErpCredentials {
	return ErpCredentials{username: username, password: password}
}

// Username returns the ERP username
func (c ErpCredentials) Username() string { return string(c.username) }

// Password returns the ERP password
func (c ErpCredentials) Password() string { return string(c.password) }

// IsZero reports whether no credentials are held
func (c ErpCredentials) IsZero() bool {
	return len(c.username) == 0 && len(c.password) == 0
}

// Wipe overwrites the credential buffers
func (c *ErpCredentials) Wipe() {
	for i := range c.username {
		c.username[i] = 0
	}
	for i := range c.password {
		c.password[i] = 0
	}
	c.username = nil
	c.password = nil
}

// String implements fmt.Stringer
func (c ErpCredentials) String() string { return redacted }

// GoString implements fmt.GoStringer
func (c ErpCredentials) GoString() string { return redacted }

// Format keeps %v, %+v, %s and friends redacted
func (c ErpCredentials) Format(f fmt.State, _ rune) {
	_, _ = f.Write([]byte(redacted))
}

// MarshalJSON never serializes the secret
func (c ErpCredentials) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}

// MarshalText never serializes the secret
func (c ErpCredentials) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}
