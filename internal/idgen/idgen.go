// Package idgen generates join request identifiers.
package idgen

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// JoinRequestPrefix marks an identifier as a join request.
const JoinRequestPrefix = "jr-"

const (
	joinRequestAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	joinRequestSize     = 14
)

// JoinRequestID returns JoinRequestPrefix followed by 14 random lowercase
// alphanumerics.
func JoinRequestID() (string, error) {
	id, err := nanoid.Generate(joinRequestAlphabet, joinRequestSize)
	if err != nil {
		return "", fmt.Errorf("generate join request id: %w", err)
	}
	return JoinRequestPrefix + id, nil
}
