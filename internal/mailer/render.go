// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package mailer

import (
	"bytes"
	stdhtml "html"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/ManuGH/lure/internal/model"
	"github.com/ManuGH/lure/internal/tracking"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([a-z_]+)\s*\}\}`)

// Vars are the values substituted into a template.
type Vars map[string]string

// VarsFor builds the placeholder values for one recipient.
func VarsFor(t model.Target, org model.Organization, tmpl model.EmailTemplate, links tracking.Links) Vars {
	return Vars{
		"first_name":   t.FirstName,
		"last_name":    t.LastName,
		"full_name":    strings.TrimSpace(t.FirstName + " " + t.LastName),
		"email":        t.Email,
		"department":   t.Department,
		"job_title":    t.JobTitle,
		"organization": org.Name,
		"sender_name":  tmpl.SenderName,
		"phishing_url": links.Click,
		"report_url":   links.Report,
	}
}

// Substitute replaces {{ name }} placeholders. Unknown names are left as is.
func Substitute(s string, vars Vars, escape bool) string {
	return placeholderRe.ReplaceAllStringFunc(s, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		v, ok := vars[name]
		if !ok {
			return m
		}
		if escape {
			return stdhtml.EscapeString(v)
		}
		return v
	})
}

// Rendered is a message body ready for a transport.
type Rendered struct {
	Subject string
	HTML    string
	Text    string
}

// Render fills the template for one recipient, points every http(s) link at
// the click URL when clicks are tracked and appends the open pixel when
// opens are tracked.
func Render(tmpl model.EmailTemplate, c model.Campaign, vars Vars, links tracking.Links) (Rendered, error) {
	out := Rendered{
		Subject: Substitute(tmpl.Subject, vars, false),
		Text:    Substitute(tmpl.TextContent, vars, false),
	}
	body := Substitute(tmpl.HTMLContent, vars, true)
	if !c.TrackClicks && !c.TrackOpens {
		out.HTML = body
		return out, nil
	}
	click := ""
	if c.TrackClicks {
		click = links.Click
	}
	pixel := ""
	if c.TrackOpens {
		pixel = links.Open
	}
	h, err := rewriteHTML(body, click, pixel)
	if err != nil {
		return Rendered{}, err
	}
	out.HTML = h
	return out, nil
}

func rewriteHTML(body, clickURL, pixelURL string) (string, error) {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return "", err
	}
	var bodyNode *html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Body:
				if bodyNode == nil {
					bodyNode = n
				}
			case atom.A:
				if clickURL != "" {
					for i, a := range n.Attr {
						if strings.EqualFold(a.Key, "href") && isWebLink(a.Val) {
							n.Attr[i].Val = clickURL
						}
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if pixelURL != "" && bodyNode != nil {
		bodyNode.AppendChild(&html.Node{
			Type:     html.ElementNode,
			Data:     "img",
			DataAtom: atom.Img,
			Attr: []html.Attribute{
				{Key: "src", Val: pixelURL},
				{Key: "width", Val: "1"},
				{Key: "height", Val: "1"},
				{Key: "alt", Val: ""},
				{Key: "style", Val: "display:none"},
			},
		})
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func isWebLink(href string) bool {
	h := strings.ToLower(strings.TrimSpace(href))
	return strings.HasPrefix(h, "http://") || strings.HasPrefix(h, "https://")
}
