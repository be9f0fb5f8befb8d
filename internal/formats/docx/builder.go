package docx

import (
	"archive/zip"
	"bytes"
	"strings"

	"github.com/xats-org/convert/core/encoding"
)

// wordNS is the WordprocessingML main namespace.
const wordNS = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"

// builder assembles the OOXML package. Parts are written in a fixed order
// with no timestamps, so the same document always produces the same bytes.
type builder struct {
	title    string
	creator  []string
	subject  string
	language string
	created  string

	// body holds the WordprocessingML fragments of w:body in order.
	body []string
}

func (b *builder) build() ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	parts := []struct {
		name    string
		content string
	}{
		{"[Content_Types].xml", contentTypesXML},
		{"_rels/.rels", packageRelsXML},
		{"docProps/core.xml", b.coreXML()},
		{"word/_rels/document.xml.rels", documentRelsXML},
		{"word/styles.xml", stylesXML},
		{"word/numbering.xml", numberingXML},
		{"word/document.xml", b.documentXML()},
	}
	for _, part := range parts {
		w, err := zw.Create(part.name)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write([]byte(part.content)); err != nil {
			return nil, err
		}
	}

	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (b *builder) documentXML() string {
	var sb strings.Builder
	sb.WriteString(xmlHeader)
	sb.WriteString(`<w:document xmlns:w="` + wordNS + `"><w:body>`)
	for _, fragment := range b.body {
		sb.WriteString(fragment)
	}
	sb.WriteString(`<w:sectPr/></w:body></w:document>`)
	return sb.String()
}

func (b *builder) coreXML() string {
	var sb strings.Builder
	sb.WriteString(xmlHeader)
	sb.WriteString(`<cp:coreProperties` +
		` xmlns:cp="http://schemas.openxmlformats.org/package/2006/metadata/core-properties"` +
		` xmlns:dc="http://purl.org/dc/elements/1.1/"` +
		` xmlns:dcterms="http://purl.org/dc/terms/"` +
		` xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance">`)
	if b.title != "" {
		sb.WriteString("<dc:title>" + encoding.EscapeXMLText(b.title) + "</dc:title>")
	}
	if len(b.creator) > 0 {
		sb.WriteString("<dc:creator>" + encoding.EscapeXMLText(strings.Join(b.creator, "; ")) + "</dc:creator>")
	}
	if b.subject != "" {
		sb.WriteString("<dc:subject>" + encoding.EscapeXMLText(b.subject) + "</dc:subject>")
	}
	if b.language != "" {
		sb.WriteString("<dc:language>" + encoding.EscapeXMLText(b.language) + "</dc:language>")
	}
	if b.created != "" {
		sb.WriteString(`<dcterms:created xsi:type="dcterms:W3CDTF">` +
			encoding.EscapeXMLText(b.created) + "</dcterms:created>")
	}
	sb.WriteString("</cp:coreProperties>")
	return sb.String()
}

const xmlHeader = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n"

const contentTypesXML = xmlHeader + `<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">` +
	`<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>` +
	`<Default Extension="xml" ContentType="application/xml"/>` +
	`<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>` +
	`<Override PartName="/word/styles.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.styles+xml"/>` +
	`<Override PartName="/word/numbering.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.numbering+xml"/>` +
	`<Override PartName="/docProps/core.xml" ContentType="application/vnd.openxmlformats-package.core-properties+xml"/>` +
	`</Types>`

const packageRelsXML = xmlHeader + `<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">` +
	`<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/>` +
	`<Relationship Id="rId2" Type="http://schemas.openxmlformats.org/package/2006/relationships/metadata/core-properties" Target="docProps/core.xml"/>` +
	`</Relationships>`

const documentRelsXML = xmlHeader + `<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">` +
	`<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/styles" Target="styles.xml"/>` +
	`<Relationship Id="rId2" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/numbering" Target="numbering.xml"/>` +
	`</Relationships>`

// paragraphStyles and characterStyles are the style vocabulary this
// converter emits and recognizes. The parser treats anything else as an
// ordinary paragraph.
var paragraphStyles = []string{
	"Heading1", "Heading2", "Heading3", "Heading4", "Heading5", "Heading6",
	"Quote", "Code", "Caption", "Bibliography", "MathBlock",
}

var characterStyles = []string{
	"CodeChar", "Citation", "CrossReference", "IndexTerm", "MathInline",
}

var stylesXML = func() string {
	var sb strings.Builder
	sb.WriteString(xmlHeader)
	sb.WriteString(`<w:styles xmlns:w="` + wordNS + `">`)
	sb.WriteString(`<w:style w:type="paragraph" w:styleId="Normal" w:default="1"><w:name w:val="Normal"/></w:style>`)
	for _, id := range paragraphStyles {
		sb.WriteString(`<w:style w:type="paragraph" w:styleId="` + id + `">` +
			`<w:name w:val="` + id + `"/><w:basedOn w:val="Normal"/></w:style>`)
	}
	for _, id := range characterStyles {
		sb.WriteString(`<w:style w:type="character" w:styleId="` + id + `">` +
			`<w:name w:val="` + id + `"/></w:style>`)
	}
	sb.WriteString("</w:styles>")
	return sb.String()
}()

// Numbering definitions: numId 1 is the bullet list, numId 2 the decimal
// list. The parser keys list kind off these two ids.
const (
	numIDBullet  = "1"
	numIDDecimal = "2"
)

const numberingXML = xmlHeader + `<w:numbering xmlns:w="` + wordNS + `">` +
	`<w:abstractNum w:abstractNumId="0"><w:lvl w:ilvl="0"><w:numFmt w:val="bullet"/><w:lvlText w:val="•"/></w:lvl></w:abstractNum>` +
	`<w:abstractNum w:abstractNumId="1"><w:lvl w:ilvl="0"><w:numFmt w:val="decimal"/><w:lvlText w:val="%1."/></w:lvl></w:abstractNum>` +
	`<w:num w:numId="` + numIDBullet + `"><w:abstractNumId w:val="0"/></w:num>` +
	`<w:num w:numId="` + numIDDecimal + `"><w:abstractNumId w:val="1"/></w:num>` +
	`</w:numbering>`
