package templates

import "embed"

//go:embed mail/*.tmpl
var MailTemplateFS embed.FS
