package notification

import (
	"bytes"
	"fmt"
	"html/template"
)

func GetEmailSubject(t Type, title string) string {
	switch t {
	case TypeNewTodo:
		return fmt.Sprintf("New todo: %s", title)
	case TypeTodoCompleted:
		return fmt.Sprintf("Completed: %s", title)
	case TypeDueSoon:
		return fmt.Sprintf("Reminder: %s is due soon", title)
	case TypeOverdue:
		return fmt.Sprintf("Overdue: %s", title)
	case TypeProfileCreated:
		return "Welcome to ZenList"
	default:
		return "Notification from ZenList"
	}
}

// Common styles and layout
const baseLayout = `
<!DOCTYPE html>
<html>
<head>
    <meta name="viewport" content="width=device-width, initial-scale=1.0" />
    <meta http-equiv="Content-Type" content="text/html; charset=UTF-8" />
    <style>
        body { background-color: #f4f6f8; font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, "Helvetica Neue", Arial, sans-serif; font-size: 16px; line-height: 1.5; margin: 0; padding: 0; }
        .container { margin: 0 auto; max-width: 560px; padding: 16px; }
        .main { background: #ffffff; border-radius: 8px; border: 1px solid #e3e8ee; padding: 24px; }
        .header { padding: 16px 0; text-align: center; font-size: 20px; font-weight: 700; color: #2e7d6b; }
        .footer { margin-top: 12px; text-align: center; color: #8a94a6; font-size: 12px; }
        h1 { font-size: 22px; margin: 0 0 16px 0; color: #1f2933; }
        p { margin: 0 0 14px 0; color: #3e4c59; }
        .meta { background: #f4f6f8; border-radius: 4px; padding: 10px 14px; color: #52606d; font-size: 14px; }
        .btn { display: inline-block; background-color: #2e7d6b; border-radius: 4px; color: #ffffff; font-weight: bold; padding: 10px 22px; text-decoration: none; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">ZenList</div>
        <div class="main">
            {{.Content}}
        </div>
        <div class="footer">
            You receive this email because notifications are enabled for your ZenList account.
        </div>
    </div>
</body>
</html>
`

const todoContent = `
    <h1>{{.Heading}}</h1>
    <p>{{.Message}}</p>
    {{if or .Due .Priority}}<p class="meta">{{with .Due}}Due: {{.}}<br>{{end}}{{with .Priority}}Priority: {{.}}{{end}}</p>{{end}}
    {{with .Link}}<p><a class="btn" href="{{.}}" target="_blank">Open ZenList</a></p>{{end}}
`

const welcomeContent = `
    <h1>Welcome{{with .Name}}, {{.}}{{end}}!</h1>
    <p>Your ZenList profile is ready. Due dates, reminders and completed tasks will show up here and in your browser.</p>
    {{with .Link}}<p><a class="btn" href="{{.}}" target="_blank">Start planning</a></p>{{end}}
`

var (
	layoutTmpl  = template.Must(template.New("layout").Parse(baseLayout))
	todoTmpl    = template.Must(template.New("todo").Parse(todoContent))
	welcomeTmpl = template.Must(template.New("welcome").Parse(welcomeContent))
)

// EmailData feeds the email content templates.
type EmailData struct {
	Heading  string
	Message  string
	Name     string
	Due      string
	Priority string
	Link     string
}

// RenderEmailTemplate renders the HTML email body for t.
func RenderEmailTemplate(t Type, data EmailData) (string, error) {
	content := todoTmpl
	if t == TypeProfileCreated {
		content = welcomeTmpl
	}

	var contentBuf bytes.Buffer
	if err := content.Execute(&contentBuf, data); err != nil {
		return "", err
	}

	var layoutBuf bytes.Buffer
	err := layoutTmpl.Execute(&layoutBuf, map[string]any{
		"Content": template.HTML(contentBuf.String()),
	})
	if err != nil {
		return "", err
	}
	return layoutBuf.String(), nil
}
