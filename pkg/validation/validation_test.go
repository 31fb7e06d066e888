package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateEmail(t *testing.T) {
	valid := []string{"user@test.io", "first.last+tag@sub.example.com", "  Upper@Example.COM  "}
	for _, email := range valid {
		assert.True(t, ValidateEmail(email), email)
	}

	invalid := []string{"", "plainaddress", "@no-local.part", "user@no-tld", "user@.leading.dot"}
	for _, email := range invalid {
		assert.False(t, ValidateEmail(email), email)
	}
}

func TestValidatePhoneNumber(t *testing.T) {
	valid := []string{"+4915112345678", "15112345678", " +14155552671 "}
	for _, number := range valid {
		assert.True(t, ValidatePhoneNumber(number), number)
	}

	invalid := []string{"", "+0123456789", "12345", "not-a-number", "+49 151 1234"}
	for _, number := range invalid {
		assert.False(t, ValidatePhoneNumber(number), number)
	}
}

func TestValidateChannelName(t *testing.T) {
	for _, channel := range []string{"whatsapp", "email", "sms", " WhatsApp ", "SMS"} {
		assert.True(t, ValidateChannelName(channel), channel)
	}
	for _, channel := range []string{"", "pigeon", "e-mail", "telegram"} {
		assert.False(t, ValidateChannelName(channel), channel)
	}
}

func TestValidatePassword(t *testing.T) {
	assert.True(t, ValidatePassword("Str0ng!pw"))
	assert.False(t, ValidatePassword("short1!"))
	assert.False(t, ValidatePassword("alllowercase1!"))
	assert.False(t, ValidatePassword("NoDigits!!"))
	assert.False(t, ValidatePassword("NoSpecial123"))
}

func TestValidateUsername(t *testing.T) {
	assert.True(t, ValidateUsername("admin_01"))
	assert.True(t, ValidateUsername("a-b-c"))
	assert.False(t, ValidateUsername("ab"))
	assert.False(t, ValidateUsername("has space"))
	assert.False(t, ValidateUsername("dots.not.allowed"))
}
