package auth

import (
	"context"
	"errors"
	"strings"
)

// ErrMissingIdentity indicates that no user identifier is available.
var ErrMissingIdentity = errors.New("auth: user identity unavailable")

// Identity is the signed-in (or anonymous) user as seen by the sync core.
// Token is empty for anonymous users.
type Identity struct {
	UserID string
	Token  string
}

// Authenticated reports whether a bearer credential is present.
func (i Identity) Authenticated() bool {
	return strings.TrimSpace(i.Token) != ""
}

// CredentialProvider supplies the current identity. Session management lives
// outside the sync core; implementations adapt it.
type CredentialProvider interface {
	Credentials(ctx context.Context) (Identity, error)
}

// DeviceIDProvider supplies a stable identifier for this installation.
type DeviceIDProvider interface {
	DeviceID(ctx context.Context) (string, error)
}

// StaticCredentials always returns the same identity.
type StaticCredentials Identity

// Credentials implements CredentialProvider.
func (s StaticCredentials) Credentials(context.Context) (Identity, error) {
	identity := Identity(s)
	if strings.TrimSpace(identity.UserID) == "" {
		return Identity{}, ErrMissingIdentity
	}
	return identity, nil
}

// StaticDeviceID always returns the same device identifier.
type StaticDeviceID string

// DeviceID implements DeviceIDProvider.
func (s StaticDeviceID) DeviceID(context.Context) (string, error) {
	return string(s), nil
}

// CredentialFunc adapts a function to CredentialProvider.
type CredentialFunc func(ctx context.Context) (Identity, error)

// Credentials implements CredentialProvider.
func (f CredentialFunc) Credentials(ctx context.Context) (Identity, error) {
	return f(ctx)
}
