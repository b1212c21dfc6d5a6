package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidatorLoadsEmbeddedSchemas(t *testing.T) {
	v, err := NewValidator(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{CaseCreate, EvidenceAsk}, v.Names())
}

func TestValidate(t *testing.T) {
	v, err := NewValidator(nil)
	require.NoError(t, err)

	tests := []struct {
		name    string
		schema  string
		payload string
		wantErr bool
	}{
		{"case ok", CaseCreate, `{"title":"Theft","description":"Bike stolen","officerId":"TN-7"}`, false},
		{"case with language", CaseCreate, `{"title":"T","description":"D","officerId":"O","language":"ta","extra":1}`, false},
		{"case missing officer", CaseCreate, `{"title":"T","description":"D"}`, true},
		{"case empty title", CaseCreate, `{"title":"","description":"D","officerId":"O"}`, true},
		{"case bad language", CaseCreate, `{"title":"T","description":"D","officerId":"O","language":"fr"}`, true},
		{"case not an object", CaseCreate, `[1,2]`, true},
		{"case malformed", CaseCreate, `{"title":`, true},
		{"ask ok", EvidenceAsk, `{"question":"what vehicles are visible?"}`, false},
		{"ask empty", EvidenceAsk, `{"question":""}`, true},
		{"ask wrong type", EvidenceAsk, `{"question":42}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.schema, []byte(tt.payload))
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "error = %v", err)
			assert.Equal(t, tt.schema, verr.Schema)
			assert.NotEmpty(t, verr.Problems)
		})
	}
}

func TestValidateUnknownSchema(t *testing.T) {
	v, err := NewValidator(nil)
	require.NoError(t, err)

	err = v.Validate("nope", []byte(`{}`))
	require.Error(t, err)
	var verr *ValidationError
	assert.False(t, errors.As(err, &verr))
}
