// Package export renders article drafts as Markdown documents.
package export

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/nao1215/markdown"
	"github.com/rotisserie/eris"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/seo-pipeline/internal/model"
)

// WriteDraft renders d to w: a metadata table, the outline, the body and the
// call to action.
func WriteDraft(w io.Writer, d model.ArticleDraft) error {
	md := markdown.NewMarkdown(w)

	title := d.Title
	if title == "" {
		title = "Untitled draft"
	}
	md.H1(title)
	md.PlainText("")

	rows := [][]string{
		{"Draft", "`" + d.ID + "`"},
		{"Website", "`" + d.WebsiteID + "`"},
		{"Created", d.CreatedAt.UTC().Format("2006-01-02 15:04 MST")},
	}
	if d.ArticleID != "" {
		rows = append(rows, []string{"Article", "`" + d.ArticleID + "`"})
	}
	if len(d.Keywords) > 0 {
		rows = append(rows, []string{"Keywords", strings.Join(d.Keywords, ", ")})
	}
	md.Table(markdown.TableSet{Header: []string{"Field", "Value"}, Rows: rows})
	md.PlainText("")

	if len(d.Outline) > 0 {
		md.H2("Outline")
		md.PlainText("")
		md.OrderedList(d.Outline...)
		md.PlainText("")
	}

	if body := strings.TrimSpace(d.BodyMarkdown); body != "" {
		md.PlainText("---")
		md.PlainText("")
		md.PlainText(body)
		md.PlainText("")
	}

	if d.CallToAction != "" {
		md.H2("Call to action")
		md.PlainText("")
		md.PlainText(d.CallToAction)
	}
	return eris.Wrapf(md.Build(), "export: render draft %s", d.ID)
}

// Filename returns a stable file name for d built from its title and id.
func Filename(d model.ArticleDraft) string {
	slug := Slugify(d.Title)
	if slug == "" {
		slug = "draft"
	}
	id := d.ID
	if len(id) > 8 {
		id = id[:8]
	}
	if id == "" {
		return slug + ".md"
	}
	return slug + "-" + id + ".md"
}

// Slugify lowercases s, strips accents and joins words with hyphens.
func Slugify(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	plain, _, err := transform.String(t, s)
	if err != nil {
		plain = s
	}

	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(plain) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}
	out := strings.TrimSuffix(b.String(), "-")
	if len(out) > 80 {
		out = strings.TrimSuffix(out[:80], "-")
	}
	return out
}

// Drafts writes one file per draft into dir and returns the written paths.
func Drafts(dir string, drafts []model.ArticleDraft) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "export: create %s", dir)
	}
	paths := make([]string, 0, len(drafts))
	for _, d := range drafts {
		path := filepath.Join(dir, Filename(d))
		if err := writeFile(path, d); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writeFile(path string, d model.ArticleDraft) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "export: create %s", path)
	}
	if err := WriteDraft(f, d); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	return eris.Wrapf(f.Close(), "export: close %s", path)
}
