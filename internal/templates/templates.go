// Package templates renders OTP message bodies. Each channel keeps a small
// set of equivalent variants; rendering picks one at random so repeated sends
// to the same destination do not look machine-stamped.
package templates

import (
	"bytes"
	"fmt"
	"html/template"
	"math/rand"
)

var whatsappVariants = []string{
	"*%[2]s*\n\n" +
		"Your verification code is:\n" +
		"*%[1]s*\n\n" +
		"This code expires in 90 seconds\n\n" +
		"*Security Reminder:*\n" +
		"• Keep this code private\n" +
		"• We'll never ask for it via phone or email\n" +
		"• If you didn't request this, please ignore\n\n" +
		"Thank you for using %[2]s!",

	"*%[2]s*\n\n" +
		"Here's your verification code:\n" +
		"*%[1]s*\n\n" +
		"Valid for 90 seconds\n\n" +
		"*Security Note:*\n" +
		"• Please keep this code private\n" +
		"• We won't ask for it via phone or email\n" +
		"• If you didn't request this code, please ignore\n\n" +
		"Thanks for using %[2]s!",

	"*%[2]s*\n\n" +
		"Your code is:\n" +
		"*%[1]s*\n\n" +
		"Expires in 90 seconds\n\n" +
		"*Important:*\n" +
		"• Don't share this code\n" +
		"• We never ask for codes via phone or email\n" +
		"• If you didn't request this, please ignore\n\n" +
		"Thank you for choosing %[2]s!",

	"*%[2]s*\n\n" +
		"Verification code:\n" +
		"*%[1]s*\n\n" +
		"90 seconds to use\n\n" +
		"*Security:*\n" +
		"• Keep private\n" +
		"• We won't ask for it\n" +
		"• Ignore if not requested\n\n" +
		"Thank you!",
}

var smsVariants = []string{
	"%[2]s: Your verification code is %[1]s. This code expires in 90 seconds. Keep this code private.",
	"%[2]s: Here's your verification code: %[1]s. Valid for 90 seconds. Don't share this code.",
	"%[2]s: Your code is %[1]s. Expires in 90 seconds. We never ask for codes via phone or email.",
}

// WhatsAppOtpMessage renders a WhatsApp OTP body for the organization.
func WhatsAppOtpMessage(code, organizationName string) string {
	return fmt.Sprintf(whatsappVariants[rand.Intn(len(whatsappVariants))], code, organizationName)
}

// SMSOtpMessage renders a short SMS OTP body.
func SMSOtpMessage(code, organizationName string) string {
	return fmt.Sprintf(smsVariants[rand.Intn(len(smsVariants))], code, organizationName)
}

// EmailOtpSubject returns the subject line for an OTP email.
func EmailOtpSubject(organizationName string) string {
	return fmt.Sprintf("Your OTP Verification Code - %s", organizationName)
}

// EmailOtpText renders the plain-text OTP email body.
func EmailOtpText(code, organizationName string) string {
	return fmt.Sprintf("%[2]s\n\n"+
		"Your verification code is:\n%[1]s\n\n"+
		"This code expires in 90 seconds\n\n"+
		"Security Reminder:\n"+
		"- Keep this code private\n"+
		"- We'll never ask for it via phone or email\n"+
		"- If you didn't request this, please ignore\n\n"+
		"Thank you for using %[2]s!", code, organizationName)
}

var emailHTMLTemplate = template.Must(template.New("otp_email").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>OTP Verification</title>
</head>
<body style="font-family: 'Segoe UI', Tahoma, Geneva, Verdana, sans-serif; color: #333; background-color: #f4f4f4; margin: 0; padding: 20px;">
    <div style="max-width: 600px; margin: 0 auto; background-color: #ffffff; border-radius: 8px; overflow: hidden;">
        <div style="background: linear-gradient(135deg, #667eea 0%, #764ba2 100%); color: white; padding: 30px 20px; text-align: center;">
            <h1 style="font-size: 24px; margin: 0 0 5px 0;">{{.OrganizationName}}</h1>
            <p style="font-size: 14px; margin: 0; opacity: 0.9;">Verification Code</p>
        </div>
        <div style="padding: 40px 30px;">
            <p style="font-size: 16px; color: #555;">Your verification code is:</p>
            <div style="text-align: center; margin: 30px 0;">
                <span style="background: linear-gradient(135deg, #667eea 0%, #764ba2 100%); color: white; font-size: 32px; font-weight: bold; padding: 20px; border-radius: 8px; letter-spacing: 8px; display: inline-block; min-width: 200px;">{{.Code}}</span>
            </div>
            <p style="font-size: 16px; color: #555;">This code expires in 90 seconds.</p>
            <div style="background-color: #fff3cd; border: 1px solid #ffeaa7; border-radius: 6px; padding: 15px; margin: 20px 0; color: #856404;">
                <h4 style="margin: 0 0 8px 0; font-size: 14px;">Security Reminder</h4>
                <ul style="margin: 0 0 0 20px; padding: 0; font-size: 13px;">
                    <li>Keep this code private</li>
                    <li>We'll never ask for it via phone or email</li>
                    <li>If you didn't request this, please ignore</li>
                </ul>
            </div>
        </div>
        <div style="background-color: #f8f9fa; padding: 20px 30px; text-align: center; border-top: 1px solid #e9ecef;">
            <p style="font-size: 12px; color: #6c757d; margin: 0;">Thank you for using {{.OrganizationName}}!</p>
        </div>
    </div>
</body>
</html>`))

// EmailOtpHTML renders the styled HTML OTP email body.
func EmailOtpHTML(code, organizationName string) (string, error) {
	var buf bytes.Buffer
	err := emailHTMLTemplate.Execute(&buf, map[string]string{
		"Code":             code,
		"OrganizationName": organizationName,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render OTP email: %w", err)
	}
	return buf.String(), nil
}
