package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Kind names one report section that is generated by the LLM.
type Kind string

const (
	KindSummary         Kind = "summary"
	KindRecommendations Kind = "recommendations"
	KindStudyFocus      Kind = "study_focus"
)

var kinds = []Kind{KindSummary, KindRecommendations, KindStudyFocus}

var tagRegex = regexp.MustCompile(`(?i)</?\s*(system-instructions|student-data)\b[^>]*>`)

var (
	loadOnce  sync.Once
	loadErr   error
	templates map[Kind]*template.Template
)

// CategoryLine is one category's correct/total line in a prompt.
type CategoryLine struct {
	Label   string
	Correct int
	Total   int
	Percent int
}

// Data holds template data for report prompts.
type Data struct {
	StudentName string
	Score       int
	Answered    int
	Categories  []CategoryLine
	Strengths   []string
	Weaknesses  []string
}

// Prompt is a rendered system/user pair.
type Prompt struct {
	System string
	User   string
}

// Load parses the embedded templates. It is safe to call more than once.
func Load() error {
	loadOnce.Do(func() {
		templates = make(map[Kind]*template.Template, len(kinds))
		funcs := template.FuncMap{"join": strings.Join}
		for _, k := range kinds {
			name := "templates/" + string(k) + ".tmpl"
			content, err := templateFS.ReadFile(name)
			if err != nil {
				loadErr = fmt.Errorf("read prompt file %s: %w", name, err)
				return
			}
			tmpl, err := template.New(string(k)).Funcs(funcs).Parse(string(content))
			if err != nil {
				loadErr = fmt.Errorf("parse prompt template %s: %w", name, err)
				return
			}
			templates[k] = tmpl
		}
	})
	return loadErr
}

// Build renders the prompt for one report section.
// The template defines a "system" and a "user" block.
func Build(kind Kind, data Data) (Prompt, error) {
	if err := Load(); err != nil {
		return Prompt{}, err
	}
	tmpl, ok := templates[kind]
	if !ok {
		return Prompt{}, fmt.Errorf("unknown prompt kind %q", kind)
	}

	data.StudentName = sanitize(data.StudentName)

	var sys, usr bytes.Buffer
	if err := tmpl.ExecuteTemplate(&sys, "system", data); err != nil {
		return Prompt{}, fmt.Errorf("render %s system prompt: %w", kind, err)
	}
	if err := tmpl.ExecuteTemplate(&usr, "user", data); err != nil {
		return Prompt{}, fmt.Errorf("render %s user prompt: %w", kind, err)
	}
	return Prompt{System: strings.TrimSpace(sys.String()), User: strings.TrimSpace(usr.String())}, nil
}

// sanitize strips markup that could be read as instructions and caps the length.
func sanitize(s string) string {
	s = tagRegex.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > 100 {
		s = string([]rune(s)[:100])
	}
	return s
}
