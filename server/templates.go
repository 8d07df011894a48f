package server

import (
	"encoding/json"
	"html/template"
	"sort"

	"github.com/das-developers/das2py-server-sub000/errors"
	"github.com/das-developers/das2py-server-sub000/source"
)

// sourceInterface is the part of a definition's interface section the
// query form understands.
type sourceInterface struct {
	Examples []struct {
		Label string `json:"label"`
		Min   string `json:"read.time.min"`
		Max   string `json:"read.time.max"`
	} `json:"examples"`
	Coords struct {
		Time struct {
			ValidRange []string `json:"validRange"`
		} `json:"time"`
	} `json:"coords"`
}

type formExample struct {
	Label, Min, Max string
}

type formField struct {
	Name        string
	Type        string
	Description string
	Required    bool
	Value       string
	Options     []string
	Flags       []source.Flag
}

type formData struct {
	LocalID  string
	Title    string
	Action   string
	ValidMin string
	ValidMax string
	Examples []formExample
	Fields   []formField
}

func newFormPage(def *source.SourceDef) (*formData, error) {
	page := &formData{
		LocalID: def.LocalID,
		Title:   def.Title,
		Action:  "/source/" + def.LocalID + "/" + actionData,
	}
	if page.Title == "" {
		page.Title = def.LocalID
	}

	if len(def.Interface) > 0 {
		var iface sourceInterface
		if err := json.Unmarshal(def.Interface, &iface); err != nil {
			return nil, errors.WithKind(errors.KindServer, err, "interface section of %s", def.LocalID)
		}
		for _, e := range iface.Examples {
			page.Examples = append(page.Examples, formExample{Label: e.Label, Min: e.Min, Max: e.Max})
		}
		if vr := iface.Coords.Time.ValidRange; len(vr) == 2 {
			page.ValidMin, page.ValidMax = vr[0], vr[1]
		}
	}

	declared := def.Protocol.HTTPParams
	for _, name := range []string{source.KeyTimeMin, source.KeyTimeMax, source.KeyResolution} {
		if _, ok := declared[name]; ok {
			continue
		}
		f := formField{Name: name, Type: string(source.ParamISOTime), Required: name != source.KeyResolution}
		if name == source.KeyResolution {
			f.Type = string(source.ParamReal)
			f.Description = "Maximum bin width in seconds"
		}
		if len(page.Examples) > 0 {
			switch name {
			case source.KeyTimeMin:
				f.Value = page.Examples[0].Min
			case source.KeyTimeMax:
				f.Value = page.Examples[0].Max
			}
		}
		page.Fields = append(page.Fields, f)
	}

	names := make([]string, 0, len(declared))
	for name := range declared {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p := declared[name]
		page.Fields = append(page.Fields, formField{
			Name:        name,
			Type:        string(p.Type),
			Description: p.Description,
			Required:    p.Required,
			Options:     p.Enum,
			Flags:       p.Flags,
		})
	}
	return page, nil
}

var formPage = template.Must(template.New("form").Parse(`<!DOCTYPE html>
<html>
<head><title>{{.Title}}</title></head>
<body>
<h1>{{.Title}}</h1>
<p>Source <code>{{.LocalID}}</code>{{if .ValidMin}}, valid from {{.ValidMin}} to {{.ValidMax}}{{end}}</p>
{{if .Examples}}<h2>Examples</h2>
<ul>
{{range .Examples}}<li><a href="{{$.Action}}?read.time.min={{.Min}}&amp;read.time.max={{.Max}}">{{if .Label}}{{.Label}}{{else}}{{.Min}} to {{.Max}}{{end}}</a></li>
{{end}}</ul>
{{end}}<form method="get" action="{{.Action}}">
<table>
{{range .Fields}}<tr>
<td><label for="{{.Name}}">{{.Name}}</label></td>
<td>{{if .Options}}<select id="{{.Name}}" name="{{.Name}}">{{if not .Required}}<option value=""></option>{{end}}{{range .Options}}<option>{{.}}</option>{{end}}</select>
{{else if eq .Type "boolean"}}<select id="{{.Name}}" name="{{.Name}}"><option value=""></option><option>true</option><option>false</option></select>
{{else}}<input id="{{.Name}}" name="{{.Name}}" value="{{.Value}}"{{if .Required}} required{{end}}>
{{end}}</td>
<td>{{.Description}}{{if .Flags}}<ul>{{range .Flags}}<li><code>{{.Name}}</code> {{.Description}}</li>{{end}}</ul>{{end}}</td>
</tr>
{{end}}</table>
<input type="submit" value="Get data">
</form>
</body>
</html>
`))

var listingPage = template.Must(template.New("listing").Parse(`<!DOCTYPE html>
<html>
<head><title>Sources {{.Path}}</title></head>
<body>
<h1>Sources /{{.Path}}</h1>
<ul>
{{range .Entries}}<li><a href="{{.URL}}">{{.ID}}</a>{{if eq .Type "directory"}}/{{else}} ({{.Format}}, <a href="/source/{{.ID}}/form.html">form</a>){{end}}</li>
{{end}}</ul>
</body>
</html>
`))
