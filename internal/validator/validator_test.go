package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckAndValid(t *testing.T) {
	v := New()
	assert.True(t, v.Valid())

	v.Check(true, "name", "must be provided")
	assert.True(t, v.Valid())

	v.Check(false, "name", "must be provided")
	assert.False(t, v.Valid())
	assert.Equal(t, "must be provided", v.Errors["name"])
}

func TestAddError_KeepsFirstMessage(t *testing.T) {
	v := New()
	v.AddError("email", "first")
	v.AddError("email", "second")
	assert.Equal(t, "first", v.Errors["email"])
}

func TestEmailRX(t *testing.T) {
	assert.True(t, Matches("staff@example.com", EmailRX))
	assert.True(t, Matches("a.b+c@sub.example.org", EmailRX))
	assert.False(t, Matches("not-an-email", EmailRX))
	assert.False(t, Matches("@example.com", EmailRX))
}

func TestPermittedValue(t *testing.T) {
	assert.True(t, PermittedValue("Available", "Available", "Issued"))
	assert.False(t, PermittedValue("Lost", "Available", "Issued"))
}
