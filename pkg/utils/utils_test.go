package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/turtacn/qrgate/pkg/constants"
	"github.com/turtacn/qrgate/pkg/errors"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 10))
	assert.Equal(t, "ab", Truncate("abcdef", 2))
	assert.Equal(t, "", Truncate("abc", 0))
	// "é" is two bytes; cutting inside it drops the whole rune.
	assert.Equal(t, "a", Truncate("aé", 2))
}

type rotateInput struct {
	GymID   string `binding:"required,max=64,excludes=0x7C"`
	Purpose string `binding:"required,qr_purpose"`
}

func TestValidateStruct(t *testing.T) {
	assert.Nil(t, ValidateStruct(&rotateInput{GymID: "g1", Purpose: "entry"}))

	appErr := ValidateStruct(&rotateInput{GymID: "g1", Purpose: "LOBBY"})
	if assert.NotNil(t, appErr) {
		assert.Equal(t, constants.ErrCodeInvalidRequest, appErr.Code())
		assert.Contains(t, errors.Message(appErr), "purpose must be one of")
	}

	appErr = ValidateStruct(&rotateInput{Purpose: "EXIT"})
	if assert.NotNil(t, appErr) {
		assert.Contains(t, errors.Message(appErr), "gym_id is required")
	}

	appErr = ValidateStruct(&rotateInput{GymID: "g|1", Purpose: "EXIT"})
	if assert.NotNil(t, appErr) {
		assert.Equal(t, constants.ErrCodeInvalidRequest, appErr.Code())
		assert.Contains(t, errors.Message(appErr), "gym_id must not contain '|'")
	}
}
