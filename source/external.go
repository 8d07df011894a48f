package source

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
)

// StreamHeader renders the definition as a das2 stream header packet, the
// form legacy clients fetch as dsdf.d2t.
func (d *SourceDef) StreamHeader() []byte {
	props := d.Legacy
	if len(props) == 0 {
		props = d.summaryProperties()
	}

	var body bytes.Buffer
	body.WriteString("<stream version=\"2.2\">\n  <properties")
	for _, p := range props {
		body.WriteString("\n    String:")
		body.WriteString(attrName(p.Key))
		body.WriteString("=\"")
		_ = xml.EscapeText(&body, []byte(p.Value))
		body.WriteString("\"")
	}
	body.WriteString("\n  />\n</stream>\n")

	var pkt bytes.Buffer
	fmt.Fprintf(&pkt, "[00]%06d", body.Len())
	pkt.Write(body.Bytes())
	return pkt.Bytes()
}

func (d *SourceDef) summaryProperties() []Property {
	props := []Property{{Key: "localId", Value: d.LocalID}}
	if d.Title != "" {
		props = append(props, Property{Key: "description", Value: d.Title})
	}
	for _, c := range d.Contacts {
		key := "techContact"
		if c.Type == "scientific" {
			key = "sciContact"
		}
		v := c.Name
		if c.Email != "" {
			v = strings.TrimSpace(v + " <" + c.Email + ">")
		}
		props = append(props, Property{Key: key, Value: v})
	}
	for _, c := range d.Readers() {
		props = append(props, Property{Key: "reader", Value: string(c.Template)})
	}
	if d.Protocol.AuthRequired {
		props = append(props, Property{Key: "securityRealm", Value: d.Protocol.AuthRealm})
	}
	return props
}

func attrName(k string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		}
		return '_'
	}, k)
}
