package digest

import (
	htmltemplate "html/template"
	texttemplate "text/template"
)

var fallbackHTML = htmltemplate.Must(htmltemplate.New("fallback.html").Parse(`<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
<div style="max-width: 640px; margin: 0 auto; padding: 20px;">
<h2 style="color: #2c3e50;">{{.Subject}}</h2>
<p>Hello {{.RecipientName}},</p>
<p>{{.Total}} {{if eq .Total 1}}item is{{else}}items are{{end}} waiting for your approval in <strong>{{.Instance}}</strong>.</p>
{{range .Sections}}
<h3 style="color: #2c3e50; border-bottom: 1px solid #ddd;">{{.Heading}} ({{.Count}})</h3>
{{range .Items}}
<div style="background-color: #f8f9fa; padding: 12px; border-radius: 5px; margin: 10px 0;">
{{if .Malformed}}<p><em>Details unavailable for item #{{.ItemID}}</em></p>
{{else}}<p><strong>{{.Title}}</strong></p>
{{range .Fields}}<p style="margin: 2px 0;"><strong>{{.Label}}:</strong> {{.Value}}</p>
{{end}}{{end}}</div>
{{end}}
<p><a href="{{.Link}}" style="background-color: #3498db; color: white; padding: 8px 16px; text-decoration: none; border-radius: 4px;">{{.LinkLabel}}</a></p>
{{end}}
<p style="color: #888; font-size: 12px;">You are receiving this because you are an administrator of {{.Instance}}.</p>
</div>
</body>
</html>
`))

var fallbackText = texttemplate.Must(texttemplate.New("fallback.txt").Parse(`{{.Subject}}

Hello {{.RecipientName}},

{{.Total}} {{if eq .Total 1}}item is{{else}}items are{{end}} waiting for your approval in {{.Instance}}.
{{range .Sections}}
{{.Heading}} ({{.Count}})
{{range .Items}}
{{if .Malformed}}- Details unavailable for item #{{.ItemID}}
{{else}}- {{.Title}}
{{range .Fields}}  {{.Label}}: {{.Value}}
{{end}}{{end}}{{end}}
{{.LinkLabel}}: {{.Link}}
{{end}}
You are receiving this because you are an administrator of {{.Instance}}.
`))
