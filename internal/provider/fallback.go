package provider

import (
	"net/url"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/seo-pipeline/internal/model"
)

// UnknownAudience is the target audience of a strategy built from a profile
// without audience segments.
const UnknownAudience = "Unknown audience"

var titleCaser = cases.Title(language.English)

// siteName derives a display name from a URL: "https://www.acme-tools.com"
// becomes "Acme Tools".
func siteName(raw string) string {
	host := raw
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		host = u.Hostname()
	}
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	if i := strings.IndexByte(host, '.'); i > 0 {
		host = host[:i]
	}
	host = strings.NewReplacer("-", " ", "_", " ").Replace(host)
	if host == "" {
		return "Website"
	}
	return titleCaser.String(host)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func fallbackScan(in ScanInput) model.ScanResult {
	return model.ScanResult{
		URL:                  in.URL,
		Title:                siteName(in.URL),
		Keywords:             []string{},
		DetectedTechnologies: []string{},
	}
}

func fallbackProfile(in AnalyzeInput) model.BusinessProfile {
	name := siteName(in.URL)
	p := model.BusinessProfile{
		Name:                   name,
		Audience:               []string{},
		Differentiators:        []string{},
		MainProductsOrServices: []string{},
	}
	if s := in.ScanResult; s != nil {
		if s.Title != "" {
			p.Name = s.Title
		}
		p.Tagline = s.Description
		p.MainProductsOrServices = nonNil(s.Keywords)
	}
	return p
}

func fallbackStrategy(in StrategyInput) model.SeoStrategy {
	p := in.BusinessProfile
	if p == nil {
		p = &model.BusinessProfile{}
	}
	name := p.Name
	if name == "" {
		name = "Our business"
	}
	audience := strings.Join(p.Audience, ", ")
	if audience == "" {
		audience = UnknownAudience
	}
	description := p.Tagline
	if description == "" {
		description = p.Mission
	}

	topics := p.MainProductsOrServices
	if len(topics) == 0 {
		topics = []string{name}
	}
	articles := make([]model.SupportingArticle, 0, len(topics))
	for _, topic := range topics {
		articles = append(articles, model.SupportingArticle{
			Title:        "What to know about " + topic,
			Keywords:     []string{strings.ToLower(topic)},
			SearchIntent: "informational",
		})
	}

	clusters := []model.TopicCluster{{
		PillarPage:         "The complete guide to " + name,
		PillarKeywords:     []string{strings.ToLower(name)},
		ClusterIntent:      "informational",
		FunnelStage:        "awareness",
		SupportingArticles: articles,
	}}
	return model.SeoStrategy{
		Business: model.StrategyBusiness{
			Name:           name,
			Description:    description,
			TargetAudience: audience,
		},
		TopicClusters: clusters,
		TotalClusters: len(clusters),
	}
}

func fallbackArticle(in ArticleInput) model.ArticleDraft {
	name := "us"
	if in.BusinessProfile != nil && in.BusinessProfile.Name != "" {
		name = in.BusinessProfile.Name
	}
	title := in.Cluster.Title
	if title == "" {
		title = in.Pillar.PillarPage
	}
	outline := []string{"Introduction", "Key considerations", "How " + name + " can help", "Conclusion"}
	return model.ArticleDraft{
		Title:        title,
		Outline:      outline,
		BodyMarkdown: cannedArticleBody(title, outline, in.Cluster.Keywords),
		Keywords:     nonNil(in.Cluster.Keywords),
		CallToAction: "Get in touch with " + name + " to learn more.",
	}
}
