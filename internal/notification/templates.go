package notification

import (
	"bytes"
	"fmt"
	"text/template"
)

// messageTemplates render the stored notification message for each type.
// Custom notifications carry their own message.
var messageTemplates = map[Type]string{
	TypeNewTodo:        `New todo created: "{{.Todo.Title}}"{{with .Due}} (due {{.}}){{end}}`,
	TypeTodoUpdated:    `Todo "{{.Todo.Title}}" was updated{{with .Changes}}: {{.}}{{end}}`,
	TypeTodoCompleted:  `Todo "{{.Todo.Title}}" marked as completed`,
	TypeTodoDeleted:    `Todo "{{.Todo.Title}}" was deleted`,
	TypeDueSoon:        `Your todo "{{.Todo.Title}}" is due soon`,
	TypeOverdue:        `Your todo "{{.Todo.Title}}" is overdue`,
	TypeProfileCreated: `Welcome to ZenList{{with .DisplayName}}, {{.}}{{end}}! Your profile is ready`,
	TypeProfileUpdated: `Your profile was updated{{with .Changes}}: {{.}}{{end}}`,
}

// pushTitles are the OS-level notification titles.
var pushTitles = map[Type]string{
	TypeNewTodo:        "New todo",
	TypeTodoUpdated:    "Todo updated",
	TypeTodoCompleted:  "Todo completed",
	TypeTodoDeleted:    "Todo deleted",
	TypeDueSoon:        "Due soon",
	TypeOverdue:        "Overdue",
	TypeProfileCreated: "Welcome to ZenList",
	TypeProfileUpdated: "Profile updated",
	TypeCustom:         "ZenList",
}

var parsedMessages = func() map[Type]*template.Template {
	out := make(map[Type]*template.Template, len(messageTemplates))
	for t, src := range messageTemplates {
		out[t] = template.Must(template.New(string(t)).Parse(src))
	}
	return out
}()

// messageData is what message templates see.
type messageData struct {
	Todo        TodoRef
	Due         string
	Changes     string
	DisplayName string
}

// RenderMessage renders the message template for t with data.
func RenderMessage(t Type, data any) (string, error) {
	tmpl, ok := parsedMessages[t]
	if !ok {
		return "", fmt.Errorf("%w: no message template for %q", ErrInvalidType, t)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
