package source

import "strings"

// Well-known stream content types.
const (
	MimeDas2Binary = "application/vnd.das2.das2stream"
	MimeDas2Text   = "text/vnd.das2.das2stream"
	MimeQStream    = "application/vnd.das2.qstream"
	MimeDas3Binary = "application/vnd.das.stream"
	MimeDas3Text   = "text/vnd.das.stream"
	MimeCSV        = "text/csv"
	MimeJSON       = "application/json"
	MimePNG        = "image/png"
	MimeAny        = "*"
)

var mimeExtensions = map[string]string{
	MimeDas2Binary: "d2s",
	MimeDas2Text:   "d2t",
	MimeQStream:    "qds",
	MimeDas3Binary: "d3b",
	MimeDas3Text:   "d3t",
	MimeCSV:        "csv",
	MimeJSON:       "json",
	MimePNG:        "png",
}

// Mime describes the content type flowing between pipeline stages.
type Mime struct {
	Type    string `json:"type"`
	Version Scalar `json:"version,omitempty"`
	Variant string `json:"variant,omitempty"`
}

// Any reports whether the descriptor accepts any upstream type.
func (m Mime) Any() bool {
	return m.Type == MimeAny
}

// Ext returns the file extension for the type, "dat" when unknown.
func (m Mime) Ext() string {
	if ext, ok := mimeExtensions[strings.ToLower(m.Type)]; ok {
		return ext
	}
	return "dat"
}

// Das2 reports whether the type is a das2 stream (binary or text).
func (m Mime) Das2() bool {
	t := strings.ToLower(m.Type)
	return t == MimeDas2Binary || t == MimeDas2Text
}

// Das3 reports whether the type is a das3 stream (binary or text).
func (m Mime) Das3() bool {
	t := strings.ToLower(m.Type)
	return t == MimeDas3Binary || t == MimeDas3Text
}

// Accepts reports whether a stage taking m can consume upstream output.
func (m Mime) Accepts(upstream Mime) bool {
	if m.Any() {
		return true
	}
	if !strings.EqualFold(m.Type, upstream.Type) {
		return false
	}
	return m.Version == "" || upstream.Version == "" || m.Version == upstream.Version
}

func (m Mime) String() string {
	if m.Version == "" {
		return m.Type
	}
	return m.Type + ";version=" + string(m.Version)
}
