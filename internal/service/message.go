package service

import (
	"fmt"
	"regexp"
	"strings"
)

// Template keys understood by MessageFormatter.
const (
	TemplateNotification = "notification"
	TemplateVerification = "verification"
)

// MissingVariable replaces template variables that are absent or empty.
const MissingVariable = "N/A"

var templateVariable = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)

// DefaultTemplates are the stock SMS bodies.
var DefaultTemplates = map[string]string{
	TemplateNotification: "Seat open: $course $section ($term) at $institution has $available of $total seats available. Manage your alert: $manageUrl$accessKey",
	TemplateVerification: "Reply $accessKey to confirm seat alerts for $course ($term) at $institution. Manage: $manageUrl$accessKey",
}

// MessageFormatter renders named templates with $name substitution.
type MessageFormatter struct {
	templates map[string]string
}

// NewMessageFormatter builds a formatter; nil templates means DefaultTemplates.
func NewMessageFormatter(templates map[string]string) *MessageFormatter {
	if templates == nil {
		templates = DefaultTemplates
	}
	copied := make(map[string]string, len(templates))
	for k, v := range templates {
		copied[k] = v
	}
	return &MessageFormatter{templates: copied}
}

// Format substitutes $name tokens in the template named key. Variable names
// match case-insensitively; missing or empty values render as MissingVariable.
func (f *MessageFormatter) Format(key string, vars map[string]string) (string, error) {
	tmpl, ok := f.templates[key]
	if !ok {
		return "", fmt.Errorf("unknown message template %q", key)
	}

	lookup := make(map[string]string, len(vars))
	for name, value := range vars {
		lookup[strings.ToLower(name)] = value
	}

	return templateVariable.ReplaceAllStringFunc(tmpl, func(token string) string {
		if value := strings.TrimSpace(lookup[strings.ToLower(token[1:])]); value != "" {
			return value
		}
		return MissingVariable
	}), nil
}
