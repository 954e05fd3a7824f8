package parser

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	spaceRe     = regexp.MustCompile(`[ \t\f\v]+`)
	blankLineRe = regexp.MustCompile(`\n\s*\n+`)
)

func parseHTML(data []byte) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML file: %w", err)
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}

	doc.Find("script, style, nav, footer, header, aside").Remove()

	var images []Image
	doc.Find("figure").Each(func(i int, s *goquery.Selection) {
		caption := strings.Join(strings.Fields(s.Find("figcaption").Text()), " ")
		if caption == "" {
			caption = fmt.Sprintf("Figure %d", i+1)
		}
		src, _ := s.Find("img").Attr("src")
		images = append(images, Image{Name: src, Description: caption})
	})

	var blocks []string
	doc.Find("body").Find("h1, h2, h3, h4, p, li, pre, blockquote, td").Each(func(i int, s *goquery.Selection) {
		if s.Find("p, li").Length() > 0 {
			return
		}
		if text := strings.Join(strings.Fields(s.Text()), " "); text != "" {
			blocks = append(blocks, text)
		}
	})

	text := strings.Join(blocks, "\n\n")
	if text == "" {
		text = strings.TrimSpace(blankLineRe.ReplaceAllString(spaceRe.ReplaceAllString(doc.Find("body").Text(), " "), "\n\n"))
	}
	if text == "" {
		return nil, fmt.Errorf("HTML: %w", ErrNoText)
	}

	return &Document{Text: text, Title: title, Images: images}, nil
}
