package model

import "time"

// Website is the entity every pipeline artifact hangs off.
type Website struct {
	ID            string     `json:"id"`
	URL           string     `json:"url"`
	Name          string     `json:"name,omitempty"`
	LastScannedAt *time.Time `json:"last_scanned_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// ScanResult is the output of the scan stage.
type ScanResult struct {
	URL                  string   `json:"url"`
	Title                string   `json:"title"`
	Description          string   `json:"description"`
	Keywords             []string `json:"keywords"`
	DetectedTechnologies []string `json:"detectedTechnologies"`
}

// BusinessProfile is derived from a ScanResult by the analyze stage.
type BusinessProfile struct {
	Name                   string   `json:"name"`
	Tagline                string   `json:"tagline"`
	Mission                string   `json:"mission"`
	Audience               []string `json:"audience"`
	Differentiators        []string `json:"differentiators"`
	MainProductsOrServices []string `json:"mainProductsOrServices"`
}

// SeoStrategy is derived from a BusinessProfile by the strategy stage.
type SeoStrategy struct {
	Business      StrategyBusiness `json:"business"`
	TopicClusters []TopicCluster   `json:"topic_clusters"`
	TotalClusters int              `json:"total_clusters"`
}

// StrategyBusiness summarizes the business a strategy targets.
type StrategyBusiness struct {
	Name           string `json:"name"`
	Description    string `json:"description"`
	TargetAudience string `json:"target_audience"`
}

// TopicCluster groups a pillar page with its supporting article briefs.
type TopicCluster struct {
	PillarPage         string              `json:"pillar_page"`
	PillarKeywords     []string            `json:"pillar_keywords"`
	ClusterIntent      string              `json:"cluster_intent"`
	FunnelStage        string              `json:"funnel_stage"`
	SupportingArticles []SupportingArticle `json:"supporting_articles"`
}

// SupportingArticle is one article brief under a pillar.
type SupportingArticle struct {
	Title        string   `json:"title"`
	Keywords     []string `json:"keywords"`
	SearchIntent string   `json:"search_intent,omitempty"`
}

// ClusterRef points at one supporting article together with its pillar.
type ClusterRef struct {
	Pillar  TopicCluster      `json:"pillar"`
	Cluster SupportingArticle `json:"cluster"`
}

// FlattenClusters lists every supporting article across all pillars, in
// pillar order then article order.
func (s *SeoStrategy) FlattenClusters() []ClusterRef {
	if s == nil {
		return nil
	}
	var out []ClusterRef
	for _, pillar := range s.TopicClusters {
		for _, c := range pillar.SupportingArticles {
			out = append(out, ClusterRef{Pillar: pillar, Cluster: c})
		}
	}
	return out
}

// FirstCluster returns the first supporting article, or false when the
// strategy has none.
func (s *SeoStrategy) FirstCluster() (ClusterRef, bool) {
	all := s.FlattenClusters()
	if len(all) == 0 {
		return ClusterRef{}, false
	}
	return all[0], true
}

// ArticleDraft is the generated seed for an article. Drafts are never
// updated after creation.
type ArticleDraft struct {
	ID               string    `json:"id"`
	WebsiteID        string    `json:"website_id"`
	ArticleID        string    `json:"article_id,omitempty"`
	PlannedArticleID string    `json:"planned_article_id,omitempty"`
	Title            string    `json:"title"`
	Outline          []string  `json:"outline"`
	BodyMarkdown     string    `json:"bodyMarkdown"`
	Keywords         []string  `json:"keywords"`
	CallToAction     string    `json:"callToAction"`
	CreatedAt        time.Time `json:"created_at"`
}

// GeneratedImage holds raw image bytes returned by a provider.
type GeneratedImage struct {
	Data     []byte `json:"-"`
	MIMEType string `json:"mime_type"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}
