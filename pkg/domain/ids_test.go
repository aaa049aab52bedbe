package domain

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "followup/pkg/domain-errors"
)

// TestParseCandidateID_Invariants validates the parsing invariant:
// "IDs must be valid, non-empty, non-nil UUIDs"
func TestParseCandidateID_Invariants(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseCandidateID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		_, err := ParseCandidateID("not-a-uuid")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects nil UUID", func(t *testing.T) {
		_, err := ParseStatusChangeID(uuid.Nil.String())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("accepts valid UUID", func(t *testing.T) {
		valid := uuid.New()
		id, err := ParseCandidateID(valid.String())
		require.NoError(t, err)
		assert.Equal(t, CandidateID(valid), id)
		assert.Equal(t, valid.String(), id.String())
	})
}

// TestParsePersonIdentifier covers the construction invariant: every valid
// 11 digit string is accepted and everything else is rejected.
func TestParsePersonIdentifier(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid", "12345678901", false},
		{"all zeros", "00000000000", false},
		{"too short", "1234567890", true},
		{"too long", "123456789012", true},
		{"empty", "", true},
		{"letters", "1234567890a", true},
		{"leading space", " 12345678901", true},
		{"trailing newline", "1234567890\n", true},
		{"arabic-indic digits", "١٢٣٤٥٦٧٨٩٠١", true},
		{"sql injection", "'; DROP--", true},
		{"oversized", strings.Repeat("1", 1000), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePersonIdentifier(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.input, p.String())
		})
	}
}

func TestPersonIdentifierKeyAndMask(t *testing.T) {
	a := PersonIdentifier("12345678901")
	b := PersonIdentifier("12345678902")

	assert.Equal(t, a.Key(), a.Key(), "key must be stable")
	assert.NotEqual(t, a.Key(), b.Key())
	assert.Len(t, a.Key(), 64)
	assert.NotContains(t, a.Key(), a.String())
	assert.Equal(t, "123456*****", a.Masked())
}

func TestParseWantsFollowUp(t *testing.T) {
	v, err := ParseWantsFollowUp("YES")
	require.NoError(t, err)
	assert.Equal(t, WantsFollowUpYes, v)

	_, err = ParseWantsFollowUp("maybe")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}
