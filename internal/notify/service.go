// Package notify sends transactional and workflow email via SMTP.
package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
}

// NewService creates a new email service
func NewService(config Config) *Service {
	auth := smtp.PlainAuth("", config.Username, config.Password, config.Host)

	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// SendEmail sends a plain text email
func (s *Service) SendEmail(to []string, subject, body string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	msg := []byte(fmt.Sprintf(
		"To: %s\r\n"+
			"From: %s\r\n"+
			"Subject: %s\r\n"+
			"Content-Type: text/plain; charset=UTF-8\r\n"+
			"\r\n"+
			"%s",
		strings.Join(to, ", "),
		from,
		subject,
		body,
	))

	return smtp.SendMail(s.server, s.auth, s.config.From, to, msg)
}

// SendHTMLEmail sends an HTML email with a plain text fallback part
func (s *Service) SendHTMLEmail(to []string, subject, htmlBody string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	boundary := "boundary-copydesk"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "Please view this email in an HTML-capable email client.\r\n")
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return smtp.SendMail(s.server, s.auth, s.config.From, to, msg.Bytes())
}

type VerificationData struct {
	AppName         string
	UserName        string
	VerificationURL string
}

type PasswordResetData struct {
	AppName  string
	UserName string
	ResetURL string
}

type DraftReviewData struct {
	AppName     string
	AuthorName  string
	Title       string
	ContentType string
	Action      string
	ReviewURL   string
}

type DraftDecisionData struct {
	AppName    string
	AuthorName string
	Title      string
	Decision   string
	Note       string
}

// SendVerificationEmail sends an email verification email
func (s *Service) SendVerificationEmail(to, userName, verificationURL string) error {
	data := VerificationData{
		AppName:         "Copydesk",
		UserName:        userName,
		VerificationURL: verificationURL,
	}

	subject := "Verify your Copydesk account"
	html, err := renderTemplate(verificationEmailTemplate, data)
	if err != nil {
		return fmt.Errorf("render verification template: %w", err)
	}

	return s.SendHTMLEmail([]string{to}, subject, html)
}

// SendPasswordResetEmail sends a password reset email
func (s *Service) SendPasswordResetEmail(to, userName, resetURL string) error {
	data := PasswordResetData{
		AppName:  "Copydesk",
		UserName: userName,
		ResetURL: resetURL,
	}

	subject := "Reset your Copydesk password"
	html, err := renderTemplate(passwordResetEmailTemplate, data)
	if err != nil {
		return fmt.Errorf("render password reset template: %w", err)
	}

	return s.SendHTMLEmail([]string{to}, subject, html)
}

// SendDraftSubmittedEmail tells reviewers a draft is waiting.
func (s *Service) SendDraftSubmittedEmail(to []string, authorName, title, contentType, action, reviewURL string) error {
	data := DraftReviewData{
		AppName:     "Copydesk",
		AuthorName:  authorName,
		Title:       title,
		ContentType: contentType,
		Action:      action,
		ReviewURL:   reviewURL,
	}

	subject := fmt.Sprintf("Draft awaiting review: %s", title)
	html, err := renderTemplate(draftSubmittedTemplate, data)
	if err != nil {
		return fmt.Errorf("render draft submitted template: %w", err)
	}

	return s.SendHTMLEmail(to, subject, html)
}

// SendDraftDecisionEmail tells an author their draft was approved or rejected.
func (s *Service) SendDraftDecisionEmail(to, authorName, title, decision, note string) error {
	data := DraftDecisionData{
		AppName:    "Copydesk",
		AuthorName: authorName,
		Title:      title,
		Decision:   decision,
		Note:       note,
	}

	subject := fmt.Sprintf("Your draft was %s: %s", decision, title)
	html, err := renderTemplate(draftDecisionTemplate, data)
	if err != nil {
		return fmt.Errorf("render draft decision template: %w", err)
	}

	return s.SendHTMLEmail([]string{to}, subject, html)
}

func renderTemplate(tmpl string, data interface{}) (string, error) {
	t := template.Must(template.New("email").Parse(tmpl))
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const baseStyle = `
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0a7d4f; padding-bottom: 10px; margin-bottom: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #0a7d4f; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
        .link { word-break: break-all; color: #0a7d4f; }
        .note { background: #f4f4f4; padding: 12px; border-radius: 4px; margin: 20px 0; }
`

const verificationEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Verify your {{.AppName}} account</title>
    <style>` + baseStyle + `</style>
</head>
<body>
    <div class="header"><h1>{{.AppName}}</h1></div>

    <h2>Welcome, {{.UserName}}!</h2>

    <p>Thank you for signing up. Please verify your email address to activate your account.</p>

    <p><a href="{{.VerificationURL}}" class="button">Verify Email Address</a></p>

    <p>Or copy and paste this link into your browser:</p>
    <p class="link">{{.VerificationURL}}</p>

    <p>This verification link will expire in 24 hours.</p>

    <div class="footer">
        <p>If you didn't create an account with {{.AppName}}, you can safely ignore this email.</p>
    </div>
</body>
</html>`

const passwordResetEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Reset your {{.AppName}} password</title>
    <style>` + baseStyle + `</style>
</head>
<body>
    <div class="header"><h1>{{.AppName}}</h1></div>

    <h2>Password Reset Request</h2>

    <p>Hi {{.UserName}},</p>

    <p>We received a request to reset your password. Click the button below to create a new password:</p>

    <p><a href="{{.ResetURL}}" class="button">Reset Password</a></p>

    <p>Or copy and paste this link into your browser:</p>
    <p class="link">{{.ResetURL}}</p>

    <div class="note"><strong>Important:</strong> This reset link will expire in 1 hour.</div>

    <div class="footer">
        <p>If you didn't request a password reset, you can safely ignore this email. Your password will remain unchanged.</p>
    </div>
</body>
</html>`

const draftSubmittedTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Draft awaiting review</title>
    <style>` + baseStyle + `</style>
</head>
<body>
    <div class="header"><h1>{{.AppName}}</h1></div>

    <h2>Draft awaiting review</h2>

    <p>{{.AuthorName}} submitted a {{.ContentType}} {{.Action}} for review:</p>

    <div class="note"><strong>{{.Title}}</strong></div>

    <p><a href="{{.ReviewURL}}" class="button">Review Draft</a></p>
</body>
</html>`

const draftDecisionTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Draft {{.Decision}}</title>
    <style>` + baseStyle + `</style>
</head>
<body>
    <div class="header"><h1>{{.AppName}}</h1></div>

    <h2>Your draft was {{.Decision}}</h2>

    <p>Hi {{.AuthorName}},</p>

    <p>Your draft <strong>{{.Title}}</strong> was {{.Decision}}.</p>

    {{if .Note}}<div class="note">{{.Note}}</div>{{end}}
</body>
</html>`
