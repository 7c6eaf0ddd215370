package loader

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/doclens/doclens/internal/ragerr"
)

// loadDOCX extracts a Word document: paragraphs and tables in document
// order, tables rendered as [Table] blocks. The body is a single page 1;
// OOXML carries no reliable pagination without a layout engine.
func loadDOCX(filename string, data []byte) ([]Page, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, ragerr.DocumentProcessing(filename, fmt.Sprintf("not a valid docx archive: %v", err))
	}

	var doc io.ReadCloser
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			doc, err = f.Open()
			if err != nil {
				return nil, ragerr.DocumentProcessing(filename, fmt.Sprintf("cannot open document body: %v", err))
			}
			break
		}
	}
	if doc == nil {
		return nil, ragerr.DocumentProcessing(filename, "missing word/document.xml")
	}
	defer doc.Close()

	text, err := walkDocumentXML(doc)
	if err != nil {
		return nil, ragerr.DocumentProcessing(filename, fmt.Sprintf("malformed document body: %v", err))
	}
	if strings.TrimSpace(text) == "" {
		return nil, ragerr.DocumentProcessing(filename, "no extractable text")
	}

	return []Page{{Number: 1, Text: text, SectionTitle: detectSectionTitle(text)}}, nil
}

// walkDocumentXML streams through the OOXML body, emitting paragraphs
// separated by blank lines and tables as pipe-delimited blocks. Paragraphs
// inside table cells belong to the cell, not the body.
func walkDocumentXML(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)

	var (
		body     strings.Builder
		para     strings.Builder
		cell     strings.Builder
		row      []string
		table    [][]string
		tblDepth int
	)

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "tbl":
				tblDepth++
			case "tr":
				if tblDepth > 0 {
					row = row[:0]
				}
			case "tc":
				if tblDepth > 0 {
					cell.Reset()
				}
			case "p":
				if tblDepth == 0 {
					para.Reset()
				}
			case "t":
				var text string
				if err := dec.DecodeElement(&text, &t); err != nil {
					return "", err
				}
				if tblDepth > 0 {
					cell.WriteString(text)
				} else {
					para.WriteString(text)
				}
			case "tab":
				if tblDepth > 0 {
					cell.WriteByte(' ')
				} else {
					para.WriteByte('\t')
				}
			case "br", "cr":
				if tblDepth == 0 {
					para.WriteByte('\n')
				} else {
					cell.WriteByte(' ')
				}
			}

		case xml.EndElement:
			switch t.Name.Local {
			case "p":
				if tblDepth == 0 {
					if s := strings.TrimSpace(para.String()); s != "" {
						body.WriteString(s)
						body.WriteString("\n\n")
					}
					para.Reset()
				} else {
					// Paragraph break inside a cell collapses to a space.
					cell.WriteByte(' ')
				}
			case "tc":
				if tblDepth > 0 {
					row = append(row, strings.TrimSpace(cell.String()))
				}
			case "tr":
				if tblDepth > 0 && len(row) > 0 {
					table = append(table, append([]string(nil), row...))
				}
			case "tbl":
				tblDepth--
				if tblDepth == 0 {
					if len(table) > 0 {
						body.WriteString(renderTable(table))
						body.WriteByte('\n')
					}
					table = nil
				}
			}
		}
	}

	return strings.TrimRight(body.String(), "\n") + "\n", nil
}
