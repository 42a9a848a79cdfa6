package telephony

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
)

// Render serializes a Response as call-control XML:
// the XML declaration, a single <Response> root, two-space indentation.
//
// encoding/xml cannot emit self-closing elements, so elements are written directly;
// carriers document <Hangup/> and <Gather .../> in that form.
func Render(r Response) ([]byte, error) {
	w := &markupWriter{}
	w.buf.WriteString(xml.Header)
	if len(r.Verbs) == 0 {
		w.buf.WriteString("<Response></Response>")
		return w.buf.Bytes(), nil
	}
	w.buf.WriteString("<Response>\n")
	for _, v := range r.Verbs {
		if v == nil {
			return nil, errVerb("Response", "nil verb")
		}
		if err := v.render(w, 1); err != nil {
			return nil, err
		}
	}
	w.buf.WriteString("</Response>")
	return w.buf.Bytes(), nil
}

// FallbackXML is served when nothing better can be produced.
const FallbackXML = xml.Header + `<Response>
  <Say voice="alice">We apologize, but we are experiencing technical difficulties. Please try again later.</Say>
  <Hangup/>
</Response>`

type attr struct {
	name, value string
}

type markupWriter struct {
	buf bytes.Buffer
}

func (w *markupWriter) indent(depth int) {
	w.buf.WriteString(strings.Repeat("  ", depth))
}

func (w *markupWriter) startTag(name string, attrs []attr) {
	w.buf.WriteByte('<')
	w.buf.WriteString(name)
	for _, a := range attrs {
		if a.value == "" {
			continue
		}
		w.buf.WriteByte(' ')
		w.buf.WriteString(a.name)
		w.buf.WriteString(`="`)
		w.buf.WriteString(escapeAttr(a.value))
		w.buf.WriteByte('"')
	}
}

func (w *markupWriter) open(depth int, name string, attrs []attr) {
	w.indent(depth)
	w.startTag(name, attrs)
	w.buf.WriteString(">\n")
}

func (w *markupWriter) close(depth int, name string) {
	w.indent(depth)
	w.buf.WriteString("</" + name + ">\n")
}

func (w *markupWriter) empty(depth int, name string, attrs []attr) {
	w.indent(depth)
	w.startTag(name, attrs)
	w.buf.WriteString("/>\n")
}

func (w *markupWriter) element(depth int, name string, attrs []attr, text string) {
	w.indent(depth)
	w.startTag(name, attrs)
	w.buf.WriteByte('>')
	w.buf.WriteString(escapeText(text))
	w.buf.WriteString("</" + name + ">\n")
}

var (
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	attrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;", "\n", "&#xA;", "\t", "&#x9;")
)

func escapeText(s string) string { return textEscaper.Replace(stripInvalidXML(s)) }
func escapeAttr(s string) string { return attrEscaper.Replace(stripInvalidXML(s)) }

// stripInvalidXML drops runes XML 1.0 does not allow.
func stripInvalidXML(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\t' || r == '\n' || r == '\r':
			return r
		case r < 0x20, r == 0xFFFE, r == 0xFFFF, r >= 0xD800 && r <= 0xDFFF:
			return -1
		}
		return r
	}, s)
}

func errVerb(verb, msg string) error {
	return fmt.Errorf("telephony: %s: %s", verb, msg)
}
