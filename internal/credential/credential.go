// Package credential stores the remote-hosting auth token in the OS
// credential store, never in the catalog.
package credential

import (
	"errors"

	"github.com/zalando/go-keyring"

	"github.com/archiveforge/gitarchiver/internal/model"
)

const (
	service = "git-archiver"
	account = "github-token"
)

// Get reads the stored token. A missing entry is not an error: it returns
// an empty string, since the system runs fine unauthenticated.
func Get() (string, error) {
	token, err := keyring.Get(service, account)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", nil
		}
		return "", model.Credential(err, "failed to read auth token from credential store")
	}
	return token, nil
}

// Set stores token. An empty token deletes the entry instead, matching
// the settings-save convention where an empty string means "clear".
func Set(token string) error {
	if token == "" {
		return Delete()
	}
	if err := keyring.Set(service, account, token); err != nil {
		return model.Credential(err, "failed to write auth token to credential store")
	}
	return nil
}

// Delete removes the stored token, if any. A missing entry is not an error.
func Delete() error {
	if err := keyring.Delete(service, account); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil
		}
		return model.Credential(err, "failed to delete auth token from credential store")
	}
	return nil
}
