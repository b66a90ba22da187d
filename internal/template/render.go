// Package template renders stored email templates by literal placeholder
// substitution. {{key}} occurrences in subject and body are replaced with
// the variable's value; unknown placeholders are left in place so missing
// variables are visible in the delivered mail rather than silently blank.
package template

import (
	"strings"

	"github.com/webq/notify-gateway/internal/model"
)

type Rendered struct {
	Subject string
	HTML    string
}

func Render(t model.EmailTemplate, vars map[string]string) Rendered {
	subject := t.Subject
	html := t.HTML
	for k, v := range vars {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		html = strings.ReplaceAll(html, placeholder, v)
	}
	return Rendered{Subject: subject, HTML: html}
}
