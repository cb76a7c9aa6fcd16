package linkerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrap_ClassifiesByKindViaErrorsIs(t *testing.T) {
	err := Wrap(Unresolved, "%d symbols missing", 3)
	assert.True(t, errors.Is(err, Unresolved))
	assert.False(t, errors.Is(err, Malformed))
}

func TestWrap_PreservesFormattedMessage(t *testing.T) {
	err := Wrap(IOFailure, "writing %s failed", "a.out")
	assert.Equal(t, "writing a.out failed", err.Error())
}

func TestWrap_DistinctKindsDoNotCollide(t *testing.T) {
	kinds := []Kind{Malformed, MissingInput, Conflict, Unresolved, ScriptError, Invariant, IOFailure}
	for i, k := range kinds {
		err := Wrap(k, "case %d", i)
		for j, other := range kinds {
			if i == j {
				assert.True(t, errors.Is(err, other))
			} else {
				assert.False(t, errors.Is(err, other))
			}
		}
	}
}
