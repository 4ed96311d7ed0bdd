package driven

import (
	"context"
	"errors"

	"github.com/PDI-Technologies/ns-sub003/internal/domain/model"
)

// ErrEncryptionKeyNotSet is returned by CredentialStore operations when
// NSSYNC_SECRET_KEY has not been configured.
var ErrEncryptionKeyNotSet = errors.New("encryption key not configured: set NSSYNC_SECRET_KEY")

// CredentialStore defines the driven port for encrypted credential persistence.
// The adapter encrypts on write and decrypts on read; values cross this
// interface as plaintext.
type CredentialStore interface {
	// Set stores or replaces the named credential.
	Set(ctx context.Context, name, plaintext string) error

	// Get returns ("", nil) when no credential is stored under name.
	Get(ctx context.Context, name string) (string, error)

	List(ctx context.Context) ([]model.Credential, error)

	Delete(ctx context.Context, name string) error
}
