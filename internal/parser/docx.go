package parser

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"
)

type wordDocument struct {
	XMLName xml.Name `xml:"document"`
	Body    wordBody `xml:"body"`
}

type wordBody struct {
	Paragraphs []wordParagraph `xml:"p"`
}

type wordParagraph struct {
	Runs []wordRun `xml:"r"`
}

type wordRun struct {
	Text []string `xml:"t"`
}

func parseDOCX(data []byte) (*Document, error) {
	zipReader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse DOCX file, please ensure it's a valid Word document: %w", err)
	}

	var documentFile *zip.File
	var images []Image
	for _, file := range zipReader.File {
		switch {
		case file.Name == "word/document.xml":
			documentFile = file
		case strings.HasPrefix(file.Name, "word/media/"):
			images = append(images, Image{
				Name:        path.Base(file.Name),
				MediaType:   mime.TypeByExtension(path.Ext(file.Name)),
				Description: path.Base(file.Name),
			})
		}
	}
	if documentFile == nil {
		return nil, fmt.Errorf("document.xml not found in DOCX")
	}

	xmlFile, err := documentFile.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open document.xml: %w", err)
	}
	defer xmlFile.Close()

	xmlData, err := io.ReadAll(xmlFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read document.xml: %w", err)
	}

	var doc wordDocument
	if err := xml.Unmarshal(xmlData, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse document.xml: %w", err)
	}

	paragraphs := make([]string, 0, len(doc.Body.Paragraphs))
	for _, para := range doc.Body.Paragraphs {
		var b strings.Builder
		for _, run := range para.Runs {
			for _, t := range run.Text {
				b.WriteString(t)
			}
		}
		if line := strings.TrimSpace(b.String()); line != "" {
			paragraphs = append(paragraphs, line)
		}
	}

	text := strings.Join(paragraphs, "\n\n")
	if text == "" {
		return nil, fmt.Errorf("DOCX: %w", ErrNoText)
	}

	return &Document{Text: text, Images: images}, nil
}
