package templates

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWhatsAppOtpMessageAlwaysCarriesCode(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		msg := WhatsAppOtpMessage("493817", "acme")
		assert.Contains(t, msg, "*493817*")
		assert.Contains(t, msg, "acme")
		assert.Contains(t, msg, "90 seconds")
		seen[msg] = true
	}
	// random variant selection actually varies
	assert.Greater(t, len(seen), 1)
}

func TestSMSOtpMessageAlwaysCarriesCode(t *testing.T) {
	for i := 0; i < 50; i++ {
		msg := SMSOtpMessage("493817", "acme")
		assert.Contains(t, msg, "493817")
		assert.True(t, strings.HasPrefix(msg, "acme: "))
	}
}

func TestEmailOtpSubject(t *testing.T) {
	assert.Equal(t, "Your OTP Verification Code - acme", EmailOtpSubject("acme"))
}

func TestEmailOtpText(t *testing.T) {
	body := EmailOtpText("493817", "acme")
	assert.Contains(t, body, "493817")
	assert.Contains(t, body, "Thank you for using acme!")
}

func TestEmailOtpHTML(t *testing.T) {
	body, err := EmailOtpHTML("493817", "acme")
	require.NoError(t, err)
	assert.Contains(t, body, ">493817<")
	assert.Contains(t, body, "acme")
	assert.Contains(t, body, "<!DOCTYPE html>")
}

func TestEmailOtpHTMLEscapesOrganizationName(t *testing.T) {
	body, err := EmailOtpHTML("493817", `<script>alert("x")</script>`)
	require.NoError(t, err)
	assert.NotContains(t, body, "<script>")
}
