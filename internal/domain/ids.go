// Package domain contains entities without transport logic, just meta-data
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const MaxIDLen = 64

var ErrIDTooLong = errors.New("id too long")

// ConnID identifies one live transport connection. Issued once, never reused.
type ConnID string

// NewConnID avoids ad-hoc uuid calls in adapters and keeps construction obvious.
func NewConnID() ConnID {
	return ConnID(uuid.NewString())
}

func (id ConnID) String() string { return string(id) }

// ParseConnID accepts any client-supplied id as an opaque token. Ids longer
// than MaxIDLen can never have been issued here.
func ParseConnID(s string) (ConnID, error) {
	if len(s) > MaxIDLen {
		return "", ErrIDTooLong
	}
	return ConnID(s), nil
}

var ErrConnNotFound = errors.New("connection not found")
