package provider

import (
	"bytes"
	"encoding/base64"
	"strings"

	"github.com/nao1215/markdown"

	"github.com/sells-group/seo-pipeline/internal/model"
)

// placeholderPNG is a 1x1 transparent PNG returned by offline image calls.
var placeholderPNG, _ = base64.StdEncoding.DecodeString(
	"iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg==")

func placeholderImage(size ImageSize) model.GeneratedImage {
	w, h := size.Dimensions()
	return model.GeneratedImage{Data: placeholderPNG, MIMEType: "image/png", Width: w, Height: h}
}

func cannedChat(in ChatInput) string {
	msg := strings.TrimSpace(in.Message)
	if msg == "" {
		return "How can I help with your SEO today?"
	}
	return "You asked: " + msg
}

func cannedArticleBody(title string, outline, keywords []string) string {
	var buf bytes.Buffer
	md := markdown.NewMarkdown(&buf)
	md.H1(title)
	md.PlainText("")
	for _, section := range outline {
		md.H2(section)
		md.PlainText("")
		md.PlainTextf("This section covers %s.", strings.ToLower(section))
		md.PlainText("")
	}
	if len(keywords) > 0 {
		md.H3("Keywords")
		md.BulletList(keywords...)
	}
	return md.String()
}
