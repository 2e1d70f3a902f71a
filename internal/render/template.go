package render

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"
	"text/template"
	"time"

	"github.com/spigell/jobhunter/internal/jobs"
)

//go:embed templates/*.tmpl
var builtin embed.FS

// TemplateRenderer executes one text/template set per kind. Every set defines
// a "subject" and a "body" template.
type TemplateRenderer struct {
	sets map[string]*template.Template
	now  func() time.Time
}

// NewTemplateRenderer loads the built-in kinds and, when dir is not empty,
// every *.tmpl file in dir. A file named like a built-in kind replaces it.
func NewTemplateRenderer(dir string) (*TemplateRenderer, error) {
	r := &TemplateRenderer{sets: map[string]*template.Template{}, now: time.Now}

	if err := r.load(builtin, "templates"); err != nil {
		return nil, err
	}

	if dir = strings.TrimSpace(dir); dir != "" {
		if err := r.load(os.DirFS(dir), "."); err != nil {
			return nil, fmt.Errorf("loading templates from %s: %w", dir, err)
		}
	}

	if _, ok := r.sets[DefaultKind]; !ok {
		return nil, fmt.Errorf("template %q is missing", DefaultKind)
	}

	return r, nil
}

func (r *TemplateRenderer) load(fsys fs.FS, root string) error {
	files, err := fs.Glob(fsys, path.Join(root, "*.tmpl"))
	if err != nil {
		return err
	}

	for _, file := range files {
		kind := strings.TrimSuffix(path.Base(file), ".tmpl")
		set, err := template.New(kind).Option("missingkey=error").ParseFS(fsys, file)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", file, err)
		}
		for _, name := range []string{"subject", "body"} {
			if set.Lookup(name) == nil {
				return fmt.Errorf("%s does not define %q", file, name)
			}
		}
		r.sets[kind] = set
	}

	return nil
}

// Kinds lists the loaded template kinds.
func (r *TemplateRenderer) Kinds() []string {
	kinds := make([]string, 0, len(r.sets))
	for k := range r.sets {
		kinds = append(kinds, k)
	}
	return kinds
}

// Render executes the set for kind. Unknown kinds fall back to the default set.
func (r *TemplateRenderer) Render(ctx context.Context, kind string, posting jobs.Posting, profile jobs.Profile) (Content, error) {
	if err := ctx.Err(); err != nil {
		return Content{}, &RenderError{Kind: kind, Err: err}
	}

	set, ok := r.sets[kind]
	if !ok {
		kind = DefaultKind
		set = r.sets[DefaultKind]
	}

	data := newData(posting, profile, r.now())

	subject, err := execute(set, "subject", data)
	if err != nil {
		return Content{}, &RenderError{Kind: kind, Err: err}
	}
	body, err := execute(set, "body", data)
	if err != nil {
		return Content{}, &RenderError{Kind: kind, Err: err}
	}

	if subject == "" || body == "" {
		return Content{}, &RenderError{Kind: kind, Err: fmt.Errorf("empty subject or body")}
	}

	return Content{Kind: kind, Subject: subject, Body: body}, nil
}

func execute(set *template.Template, name string, data Data) (string, error) {
	var buf bytes.Buffer
	if err := set.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}
