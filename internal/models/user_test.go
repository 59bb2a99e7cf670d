package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCallerCanModify(t *testing.T) {
	owner := Caller{UserID: "u1", Role: UserRoleUser}
	assert.True(t, owner.CanModify("u1"))
	assert.False(t, owner.CanModify("u2"))
	assert.False(t, Caller{}.CanModify(""))
	assert.True(t, Caller{UserID: "root", Role: UserRoleAdmin}.CanModify("u2"))
}

func TestImagePatchEmpty(t *testing.T) {
	assert.True(t, ImagePatch{}.Empty())
	name := "x.png"
	assert.False(t, ImagePatch{OriginalFilename: &name}.Empty())
}
