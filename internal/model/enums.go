package model

// Document status
type DocumentStatus string

const (
	DocumentStatusPending        DocumentStatus = "pending"
	DocumentStatusRunning        DocumentStatus = "running"
	DocumentStatusAwaitingReview DocumentStatus = "awaiting-review"
	DocumentStatusFailed         DocumentStatus = "failed"
	DocumentStatusPublished      DocumentStatus = "published"
)

// Stage kinds
type StageKind string

const (
	// StageKindSource is the intake slot: its artifact is written when the
	// document enters the pipeline and the stage itself is never scheduled.
	StageKindSource      StageKind = "source"
	StageKindAutomated   StageKind = "automated"
	StageKindHumanReview StageKind = "human-review"
	StageKindTerminal    StageKind = "terminal"
)

// Stage identifiers of the default pipeline
type StageID string

const (
	StageExtract        StageID = "extract"
	StageContentRewrite StageID = "content-rewrite"
	StagePRPolish       StageID = "pr-polish"
	StageFormat         StageID = "format"
	StageReview         StageID = "review"
	StagePublish        StageID = "publish"
)

// AI providers
type Provider string

const (
	ProviderOpenAI     Provider = "openai"
	ProviderOpenRouter Provider = "openrouter"
	ProviderGroq       Provider = "groq"
	// ProviderMarkdown is the builtin markdown-to-HTML renderer; it needs no
	// credentials and is deterministic.
	ProviderMarkdown Provider = "markdown"
	// ProviderMock is the deterministic development/test backend.
	ProviderMock Provider = "mock"
)

var ValidProviders = []Provider{
	ProviderOpenAI, ProviderOpenRouter, ProviderGroq,
	ProviderMarkdown, ProviderMock,
}

// Processing modes
type ProcessingMode string

const (
	// ModeAuto chains automated stages until the human-review stage.
	ModeAuto ProcessingMode = "auto"
	// ModeManual runs exactly one stage per advance call.
	ModeManual ProcessingMode = "manual"
)
