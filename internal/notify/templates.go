package notify

import (
	"fmt"
	"html"
	"strings"
	"text/template"
)

// renderMessage expands the event's message template with dispatch data.
// A template failure falls back to the raw template text so a bad data map
// never blocks delivery.
func renderMessage(tmpl string, data map[string]interface{}) string {
	t, err := template.New("message").Option("missingkey=zero").Parse(tmpl)
	if err != nil {
		return tmpl
	}

	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return tmpl
	}
	return strings.TrimSpace(b.String())
}

// emailBodies renders the HTML and plain text variants of a notification
// email, including the action link when the notification carries one.
func emailBodies(n Notification) (htmlBody, textBody string) {
	actionURL := n.ActionURL()
	actionText := n.ActionText()
	if actionText == "" {
		actionText = "Open dashboard"
	}

	actionHTML := ""
	actionPlain := ""
	if actionURL != "" {
		actionHTML = fmt.Sprintf(`
    <p><a href="%s" style="display: inline-block; background: #1a1a2e; color: #ffffff; padding: 10px 18px; border-radius: 6px; text-decoration: none;">%s</a></p>`,
			html.EscapeString(actionURL),
			html.EscapeString(actionText),
		)
		actionPlain = fmt.Sprintf("\n%s: %s\n", actionText, actionURL)
	}

	htmlBody = fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #1a1a2e; margin: 0; padding: 24px;">
  <div style="max-width: 560px; margin: 0 auto; border: 1px solid #e0e0e0; border-radius: 8px; padding: 24px;">
    <h2 style="margin-top: 0;">%s</h2>
    <p>%s</p>%s
    <p style="color: #6b7280; font-size: 13px;">Priority: %s &middot; Event: %s</p>
    <hr style="border: none; border-top: 1px solid #e0e0e0;">
    <p style="color: #6b7280; font-size: 12px;">Aviators Training Centre content automation</p>
  </div>
</body>
</html>`,
		html.EscapeString(n.Title),
		html.EscapeString(n.Message),
		actionHTML,
		html.EscapeString(string(n.Priority)),
		html.EscapeString(string(n.EventType)),
	)

	textBody = fmt.Sprintf("%s\n\n%s\n%s\nPriority: %s\nEvent: %s\n\nAviators Training Centre content automation\n",
		n.Title, n.Message, actionPlain, n.Priority, n.EventType)

	return htmlBody, textBody
}
