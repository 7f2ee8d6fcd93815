// Package globalref implements opaque, type-tagged entity references.
//
// A reference is base64url("<Type>:<uuid>"). The encoded form is the only
// identifier ever exposed over the API; internal storage keys stay internal.
package globalref

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/hexagonlabs/roster/pkg/apperrors"
)

// RefType tags the entity kind a reference points at
type RefType string

const (
	TypeUser         RefType = "User"
	TypeOrganisation RefType = "Organisation"
	TypeMembership   RefType = "Membership"
)

// TypeMismatchError reports a structurally valid reference of the wrong type
type TypeMismatchError struct {
	Want RefType
	Got  RefType
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("invalid reference type: expected %s, received %s", e.Want, e.Got)
}

// Encode builds the opaque reference for an entity
func Encode(t RefType, id uuid.UUID) string {
	return base64.RawURLEncoding.EncodeToString([]byte(string(t) + ":" + id.String()))
}

// Decode parses an opaque reference into its type tag and internal key
func Decode(ref string) (RefType, uuid.UUID, error) {
	raw, err := base64.RawURLEncoding.DecodeString(ref)
	if err != nil {
		return "", uuid.Nil, apperrors.Wrap(apperrors.KindInvalidReference, "malformed reference encoding", err)
	}

	parts := strings.SplitN(string(raw), ":", 2)
	if len(parts) != 2 || parts[0] == "" {
		return "", uuid.Nil, apperrors.InvalidReference("malformed reference payload")
	}

	id, err := uuid.Parse(parts[1])
	if err != nil {
		return "", uuid.Nil, apperrors.Wrap(apperrors.KindInvalidReference, "malformed reference key", err)
	}

	return RefType(parts[0]), id, nil
}

// DecodeTyped parses a reference and verifies its type tag.
// A wrong tag is reported as its own error so callers can distinguish
// "you sent a Membership reference where an Organisation was expected"
// from a reference that is garbage.
func DecodeTyped(ref string, want RefType) (uuid.UUID, error) {
	got, id, err := Decode(ref)
	if err != nil {
		return uuid.Nil, err
	}
	if got != want {
		return uuid.Nil, apperrors.Wrap(apperrors.KindInvalidReference,
			fmt.Sprintf("expected %s reference", want),
			&TypeMismatchError{Want: want, Got: got})
	}
	return id, nil
}
