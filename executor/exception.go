package executor

import (
	"bytes"
	"encoding/xml"
	"fmt"

	"github.com/das-developers/das2py-server-sub000/errors"
	"github.com/das-developers/das2py-server-sub000/source"
)

func escapeXML(s string) string {
	var b bytes.Buffer
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

// Das2Exception frames an exception as a das2 out-of-band packet:
// [xx]NNNNNN<exception type="..." message="..."/>
func Das2Exception(kind errors.Kind, message string) []byte {
	body := fmt.Sprintf("<exception type=\"%s\" message=\"%s\"/>\n", kind, escapeXML(message))
	return []byte(fmt.Sprintf("[xx]%06d%s", len(body), body))
}

// Das3Exception frames an exception as a das3 packet: |Ex||N|<body>
func Das3Exception(kind errors.Kind, message string) []byte {
	body := fmt.Sprintf("\n<exception type=\"%s\">%s</exception>\n", kind, escapeXML(message))
	return []byte(fmt.Sprintf("|Ex||%d|%s", len(body), body))
}

// Exception frames an exception for a stream of type m. It returns nil
// for content types that cannot carry in-band exceptions.
func Exception(m source.Mime, kind errors.Kind, message string) []byte {
	switch {
	case m.Das3():
		return Das3Exception(kind, message)
	case m.Das2(), m.Type == source.MimeQStream:
		return Das2Exception(kind, message)
	default:
		return nil
	}
}

// ExceptionFor frames err using its kind and user-facing message.
func ExceptionFor(m source.Mime, err error) []byte {
	return Exception(m, errors.KindOf(err), errors.Message(err))
}
