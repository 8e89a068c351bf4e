package validator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string `validate:"required"`
	Count int    `validate:"gte=1"`
}

func TestValidateStruct(t *testing.T) {
	require.NoError(t, ValidateStruct(sample{Name: "a", Count: 1}))

	err := ValidateStruct(sample{})
	require.Error(t, err)
	fields := TranslateError(err)
	assert.Contains(t, fields, "Name")
	assert.Contains(t, fields, "Count")
}

func TestTranslateErrorPlainError(t *testing.T) {
	assert.Empty(t, TranslateError(nil))
	assert.Equal(t, "boom", TranslateError(errors.New("boom"))["_"])
}
