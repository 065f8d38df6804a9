package models

type AnalysisResult struct {
	Summary        string   `json:"summary"`
	SuggestedTitle string   `json:"suggested_title"`
	Categories     []string `json:"categories"`
	TopicKey       string   `json:"topic_key"`
	Confidence     float64  `json:"confidence"`
}
