package service

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"complyd/internal/evidence/models"
)

// DefaultMaxEvidenceLength caps extracted text, in runes.
const DefaultMaxEvidenceLength = 25000

// Normalizer turns raw content into Items.
type Normalizer struct {
	maxLen int
	now    func() time.Time
	newID  func() string
}

// NormalizerOption configures a Normalizer.
type NormalizerOption func(*Normalizer)

func WithMaxLength(limit int) NormalizerOption {
	return func(n *Normalizer) {
		if limit > 0 {
			n.maxLen = limit
		}
	}
}

func WithClock(now func() time.Time) NormalizerOption {
	return func(n *Normalizer) { n.now = now }
}

func WithIDGenerator(gen func() string) NormalizerOption {
	return func(n *Normalizer) { n.newID = gen }
}

func NewNormalizer(opts ...NormalizerOption) *Normalizer {
	n := &Normalizer{
		maxLen: DefaultMaxEvidenceLength,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize extracts text by content type, classifies it and stamps an Item.
func (n *Normalizer) Normalize(raw models.Raw, sourceURL string) (*models.Item, error) {
	ct := strings.ToLower(raw.ContentType)
	var text string
	switch {
	case strings.Contains(ct, "html"):
		text = collapse(extractHTML(raw.Content))
	case strings.Contains(ct, "json"):
		text = extractJSON(raw.Content)
	case strings.Contains(ct, "xml"):
		text = collapse(extractXML(raw.Content))
	default:
		text = strings.TrimSpace(string(raw.Content))
	}
	if text == "" {
		return nil, models.ErrEmptyEvidence
	}
	text, truncated := truncateRunes(text, n.maxLen)

	return &models.Item{
		ID:            n.newID(),
		SourceURL:     sourceURL,
		ContentType:   raw.ContentType,
		EvidenceType:  Classify(text),
		ExtractedText: text,
		ExtractedAt:   n.now().UTC(),
		Truncated:     truncated,
	}, nil
}

var skippedElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Nav:      true,
	atom.Header:   true,
	atom.Footer:   true,
	atom.Aside:    true,
	atom.Noscript: true,
}

func extractHTML(content []byte) string {
	doc, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return string(content)
	}
	root := mainContent(doc)
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode && skippedElements[node.DataAtom] {
			return
		}
		if node.Type == html.TextNode {
			b.WriteString(node.Data)
			b.WriteByte(' ')
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return b.String()
}

// mainContent prefers div#content, then main, article, body.
func mainContent(doc *html.Node) *html.Node {
	var byID, mainEl, article, body *html.Node
	var find func(*html.Node)
	find = func(node *html.Node) {
		if node.Type == html.ElementNode {
			switch node.DataAtom {
			case atom.Div:
				if byID == nil && attr(node, "id") == "content" {
					byID = node
				}
			case atom.Main:
				if mainEl == nil {
					mainEl = node
				}
			case atom.Article:
				if article == nil {
					article = node
				}
			case atom.Body:
				if body == nil {
					body = node
				}
			}
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			find(c)
		}
	}
	find(doc)
	for _, n := range []*html.Node{byID, mainEl, article, body} {
		if n != nil {
			return n
		}
	}
	return doc
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// extractJSON re-indents valid JSON and passes anything else through trimmed.
func extractJSON(content []byte) string {
	var out bytes.Buffer
	if err := json.Indent(&out, bytes.TrimSpace(content), "", "  "); err != nil {
		return strings.TrimSpace(string(content))
	}
	return out.String()
}

func extractXML(content []byte) string {
	dec := xml.NewDecoder(bytes.NewReader(content))
	dec.Strict = false
	var b strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			if !errors.Is(err, io.EOF) && b.Len() == 0 {
				return string(content)
			}
			break
		}
		if cd, ok := tok.(xml.CharData); ok {
			b.Write(cd)
			b.WriteByte(' ')
		}
	}
	return b.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, max int) (string, bool) {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s, false
	}
	i := 0
	for pos := range s {
		if i == max {
			return s[:pos], true
		}
		i++
	}
	return s, false
}
