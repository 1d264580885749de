// Package prompts holds the built-in system and user prompt templates for
// every pipeline task. Templates use the {{path.to.value}} syntax rendered by
// package tmpl.
package prompts

import "github.com/sells-group/seo-pipeline/internal/model"

// Template is the pair of prompts sent for one task.
type Template struct {
	System string
	User   string
}

const jsonOnly = "Respond with a single JSON object and nothing else. Do not wrap it in markdown."

var defaults = map[model.Task]Template{
	model.TaskScanWebsite: {
		System: "You are a technical SEO crawler. You inspect a website's homepage and report " +
			"what a search engine would index. " + jsonOnly,
		User: `Scan the website {{url}}.

Homepage snapshot (may be empty):
{{page}}

Return JSON with exactly these keys:
{"url": string, "title": string, "description": string, "keywords": string[], "detectedTechnologies": string[]}`,
	},
	model.TaskAnalyzeBusiness: {
		System: "You are a brand strategist. From a website scan you infer who the business is, " +
			"who it serves and what sets it apart. " + jsonOnly,
		User: `Website: {{url}}

Scan result:
{{scanResult}}

Return JSON with exactly these keys:
{"name": string, "tagline": string, "mission": string, "audience": string[], "differentiators": string[], "mainProductsOrServices": string[]}`,
	},
	model.TaskBuildSeoStrategy: {
		System: "You are an SEO strategist who plans topic clusters: pillar pages supported by " +
			"articles that target long-tail keywords. " + jsonOnly,
		User: `Business profile:
{{businessProfile}}

Plan 3 to 5 topic clusters. Return JSON with exactly these keys:
{"business": {"name": string, "description": string, "target_audience": string},
 "topic_clusters": [{"pillar_page": string, "pillar_keywords": string[], "cluster_intent": string, "funnel_stage": string,
   "supporting_articles": [{"title": string, "keywords": string[], "search_intent": string}]}],
 "total_clusters": number}`,
	},
	model.TaskGenerateArticle: {
		System: "You are a senior content writer producing search-optimized long-form articles " +
			"in Markdown. " + jsonOnly,
		User: `Business profile:
{{businessProfile}}

Pillar page: {{pillar.pillar_page}}
Pillar keywords: {{pillar.pillar_keywords}}

Write the supporting article "{{cluster.title}}" targeting {{cluster.keywords}} ({{cluster.search_intent}} intent).

Return JSON with exactly these keys:
{"title": string, "outline": string[], "bodyMarkdown": string, "keywords": string[], "callToAction": string}`,
	},
	model.TaskGenerateImage: {
		System: "You are an illustrator creating clean, brand-safe blog header images without text.",
		User:   "{{prompt}}",
	},
	model.TaskChat: {
		System: "You are a helpful SEO assistant.",
		User:   "{{message}}",
	},
}

// Default returns the built-in templates for task. Unknown tasks get the chat
// templates.
func Default(task model.Task) Template {
	if t, ok := defaults[task]; ok {
		return t
	}
	return defaults[model.TaskChat]
}
