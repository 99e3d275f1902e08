package model

import "time"

// PromptPlaceholder is substituted with the input artifact when a prompt
// template is rendered.
const PromptPlaceholder = "${content}"

// AIStepConfig binds one automated stage to a provider/model/prompt. Configs
// are versioned: updates write a new version and swap the active pointer, so a
// run that captured a version at enqueue time is unaffected by later updates.
type AIStepConfig struct {
	StageID        StageID   `json:"stageId"`
	Provider       Provider  `json:"provider"`
	Model          string    `json:"model"`
	PromptTemplate string    `json:"promptTemplate"`
	Temperature    float64   `json:"temperature,omitempty"`
	MaxTokens      int       `json:"maxTokens,omitempty"`
	Version        int64     `json:"version"`
	UpdatedAt      time.Time `json:"updatedAt"`
}
