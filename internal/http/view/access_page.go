package view

import (
	"bytes"
	"html/template"
)

// Access page modes.
const (
	ModePassword  = "password"
	ModeHandshake = "handshake"
)

// AccessPageData provides the dynamic fields of the password / handshake entry page.
type AccessPageData struct {
	Title  string
	Key    string
	Mode   string
	Action string
	Error  string
}

var accessPageTmpl = template.Must(template.New("access_page").Parse(`
<!DOCTYPE html>
<html lang="en">
<head>
	<meta charset="utf-8" />
	<meta name="viewport" content="width=device-width, initial-scale=1" />
	<meta name="robots" content="noindex" />
	<title>{{.Title}}</title>
	<style>
		:root {
			--bg: #090a0f;
			--card: rgba(255, 255, 255, 0.05);
			--border: rgba(255, 255, 255, 0.15);
			--text: #e7ecff;
			--muted: #a1acc5;
			--accent: #7dd3fc;
			--accent-strong: #38bdf8;
			--danger: #fca5a5;
			font-family: "Inter", -apple-system, BlinkMacSystemFont, "Segoe UI", sans-serif;
		}
		* { box-sizing: border-box; }
		body {
			margin: 0;
			min-height: 100vh;
			display: flex;
			align-items: center;
			justify-content: center;
			background: radial-gradient(circle at 20% 20%, #111827, #030712 60%);
			color: var(--text);
		}
		.card {
			background: var(--card);
			border: 1px solid var(--border);
			border-radius: 18px;
			padding: 32px;
			width: min(440px, 92vw);
			box-shadow: 0 45px 100px rgba(0,0,0,0.35);
		}
		h1 { font-size: 1.4rem; margin-bottom: 6px; }
		p { color: var(--muted); margin-top: 0; }
		label {
			display: block;
			font-size: 0.82rem;
			text-transform: uppercase;
			letter-spacing: 0.08em;
			color: var(--muted);
			margin: 20px 0 8px;
		}
		input {
			width: 100%;
			height: 44px;
			border-radius: 12px;
			border: 1px solid var(--border);
			background: rgba(0,0,0,0.25);
			color: var(--text);
			padding: 0 14px;
			font-size: 1rem;
		}
		button {
			margin-top: 20px;
			width: 100%;
			height: 48px;
			border: 0;
			border-radius: 999px;
			background: linear-gradient(120deg, var(--accent), var(--accent-strong));
			color: #050708;
			font-weight: 600;
			cursor: pointer;
		}
		.error { color: var(--danger); margin-top: 16px; }
	</style>
</head>
<body>
	<div class="card">
		<h1>{{.Title}}</h1>
		<p>Short link <strong>/{{.Key}}</strong> is protected.</p>

		{{if eq .Mode "password"}}
		<form action="{{.Action}}" method="GET">
			<label for="senha">Password</label>
			<input id="senha" name="senha" type="password" autocomplete="off" required autofocus />
			<button type="submit">Open link</button>
		</form>
		{{else}}
		<form action="{{.Action}}" method="POST">
			<input type="hidden" name="key" value="{{.Key}}" />
			<label for="token">Access token</label>
			<input id="token" name="token" autocomplete="off" required autofocus />
			<button type="submit">Open link</button>
		</form>
		{{end}}

		{{if .Error}}<div class="error">{{.Error}}</div>{{end}}
	</div>
</body>
</html>
`))

// RenderAccessPage expands the access page template with the provided data.
func RenderAccessPage(data AccessPageData) (string, error) {
	if data.Title == "" {
		data.Title = "Protected link"
	}
	var buf bytes.Buffer
	if err := accessPageTmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
