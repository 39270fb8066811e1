// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package tracking

import (
	"bytes"
	"html/template"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// DefaultAwarenessMessage is shown when a landing page sets none.
const DefaultAwarenessMessage = "This was a simulated phishing exercise run by your security team. " +
	"No data you entered was kept. Look out for unexpected requests for credentials, urgent wording " +
	"and sender addresses that do not match the organization they claim to be from."

var awarenessTmpl = template.Must(template.New("awareness").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<style>
body{font-family:system-ui,sans-serif;background:#f4f6f8;margin:0;padding:3rem 1rem;color:#1f2933}
main{max-width:36rem;margin:0 auto;background:#fff;border-radius:8px;padding:2rem;box-shadow:0 1px 3px rgba(0,0,0,.12)}
h1{font-size:1.4rem;margin-top:0}
</style>
</head>
<body>
<main>
<h1>{{.Title}}</h1>
<p>{{.Message}}</p>
{{if .ReportURL}}<p><a href="{{.ReportURL}}">Report this email as phishing</a></p>{{end}}
</main>
</body>
</html>
`))

type awarenessData struct {
	Title     string
	Message   string
	ReportURL string
}

func renderAwareness(title, message, reportURL string) (string, error) {
	if strings.TrimSpace(message) == "" {
		message = DefaultAwarenessMessage
	}
	var buf bytes.Buffer
	if err := awarenessTmpl.Execute(&buf, awarenessData{Title: title, Message: message, ReportURL: reportURL}); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// renderLanding returns the landing page with css injected into the head and
// every form posting to submitURL.
func renderLanding(page, css, submitURL string) (string, error) {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return "", err
	}
	var head *html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Head:
				if head == nil {
					head = n
				}
			case atom.Form:
				setAttr(n, "action", submitURL)
				setAttr(n, "method", "post")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if strings.TrimSpace(css) != "" && head != nil {
		style := &html.Node{Type: html.ElementNode, Data: "style", DataAtom: atom.Style}
		style.AppendChild(&html.Node{Type: html.TextNode, Data: css})
		head.AppendChild(style)
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func setAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if strings.EqualFold(n.Attr[i].Key, key) {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}
