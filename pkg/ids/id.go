// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ids

import (
	"fmt"

	"github.com/google/uuid"
)

// ID identifies one loaded ad instance for the lifetime of the process
type ID uuid.UUID

// Empty is the zero ID; it never identifies a loaded ad
var Empty = ID{}

// New returns a random ID
func New() ID {
	return ID(uuid.New())
}

// String returns the canonical uuid form of the ID
func (id ID) String() string {
	return uuid.UUID(id).String()
}

// IsEmpty reports whether id is the zero ID
func (id ID) IsEmpty() bool {
	return id == Empty
}

// FromString parses an ID produced by String
func FromString(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Empty, fmt.Errorf("invalid ID %q: %w", s, err)
	}
	return ID(u), nil
}

func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := FromString(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
