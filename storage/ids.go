package storage

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// NewShardID generates a new, random shard id.
func NewShardID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", errors.Wrap(err, "failed to generate shard id")
	}
	return id.String(), nil
}

// validateID checks that id can be used as a file name stem.
func validateID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) || strings.HasPrefix(id, ".tmp-") {
		return errors.Wrapf(ErrInvalidID, "id=%q", id)
	}
	return nil
}
