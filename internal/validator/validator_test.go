package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Text      string  `json:"text" validate:"required,max=5"`
	MediaType *string `json:"mediaType,omitempty" validate:"omitempty,is-media-type"`
	IDs       []uint  `json:"ids" validate:"required,min=1,dive,gt=0"`
}

type query struct {
	Q string `form:"q" validate:"required"`
}

func strPtr(s string) *string { return &s }

func TestValidate_OK(t *testing.T) {
	v := New()
	err := v.Validate(&sample{Text: "hi", MediaType: strPtr("image"), IDs: []uint{1}})
	assert.NoError(t, err)
}

func TestValidate_UsesWireNames(t *testing.T) {
	v := New()
	err := v.Validate(&sample{Text: "too long text", MediaType: strPtr("sticker")})
	require.Error(t, err)

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Errors, "text")
	assert.Contains(t, vErr.Errors, "mediaType")
	assert.Contains(t, vErr.Errors, "ids")
	assert.Equal(t, "Must be one of: image, video, audio, file", vErr.Errors["mediaType"])
}

func TestValidate_FormTag(t *testing.T) {
	v := New()
	err := v.Validate(&query{})

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "This field is required", vErr.Errors["q"])
}

func TestValidate_DiveGreaterThanZero(t *testing.T) {
	v := New()
	err := v.Validate(&sample{Text: "ok", IDs: []uint{3, 0}})

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Len(t, vErr.Errors, 1)
	assert.Equal(t, "Must be greater than 0", vErr.Errors["ids[1]"])
}
