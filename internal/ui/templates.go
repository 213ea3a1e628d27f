package ui

import (
	"embed"
	"html/template"
	"io/fs"
	"time"
)

//go:embed templates/*
var templateFS embed.FS

var templates = mustParseTemplates()

var funcMap = template.FuncMap{
	"formatTime": func(t any) string {
		switch v := t.(type) {
		case time.Time:
			if v.IsZero() {
				return ""
			}
			return v.Format("Mon 2 Jan 2006, 15:04")
		case *time.Time:
			if v == nil {
				return ""
			}
			return v.Format("Mon 2 Jan 2006, 15:04")
		}
		return ""
	},
	"formatDate": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Format("2006-01-02")
	},
	"formatClock": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Format("15:04")
	},
	"selectedID": func(current *int64, id int64) bool {
		return current != nil && *current == id
	},
	"field": func(errs FieldErrors, name string) string {
		if errs == nil {
			return ""
		}
		return errs[name]
	},
	"padTimes": func(ts []TimeForm) []TimeForm {
		out := make([]TimeForm, maxFormTimes)
		copy(out, ts)
		return out
	},
	"padLinks": func(ls []string) []string {
		out := make([]string, maxFormLinks)
		copy(out, ls)
		return out
	},
}

func mustParseTemplates() map[string]*template.Template {
	files, err := fs.Glob(templateFS, "templates/*.html")
	if err != nil {
		panic(err)
	}

	base := template.Must(template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html"))

	sets := make(map[string]*template.Template)
	for _, file := range files {
		if file == "templates/base.html" {
			continue
		}

		set := template.Must(base.Clone())
		template.Must(set.ParseFS(templateFS, file))
		sets[file[len("templates/"):]] = set
	}

	return sets
}
