package model

// Task identifies one AI capability. Prompt overrides, call logs and
// per-task model selection are keyed by it.
type Task string

const (
	TaskScanWebsite      Task = "scan_website"
	TaskAnalyzeBusiness  Task = "analyze_business"
	TaskBuildSeoStrategy Task = "build_seo_strategy"
	TaskGenerateArticle  Task = "generate_article"
	TaskGenerateImage    Task = "generate_image"
	TaskChat             Task = "chat"
)

// AllTasks returns every known task in pipeline order.
func AllTasks() []Task {
	return []Task{
		TaskScanWebsite,
		TaskAnalyzeBusiness,
		TaskBuildSeoStrategy,
		TaskGenerateArticle,
		TaskGenerateImage,
		TaskChat,
	}
}

// Valid reports whether t is one of the known tasks.
func (t Task) Valid() bool {
	for _, k := range AllTasks() {
		if k == t {
			return true
		}
	}
	return false
}

// WantsJSON reports whether the task's output is a structured document.
func (t Task) WantsJSON() bool {
	switch t {
	case TaskScanWebsite, TaskAnalyzeBusiness, TaskBuildSeoStrategy, TaskGenerateArticle:
		return true
	default:
		return false
	}
}
