// Package models holds the data model shared across the article-generation
// pipeline: principals, projects, jobs and their accumulated artifacts.
package models

import (
	"errors"
	"time"
)

// ErrJobNotFound is returned when a job id does not resolve to a record
// owned by the requesting principal.
var ErrJobNotFound = errors.New("generation job not found")

// LogLevel tags one entry of a job's append-only event log.
type LogLevel string

const (
	LogLevelInfo     LogLevel = "info"
	LogLevelWarn     LogLevel = "warn"
	LogLevelError    LogLevel = "error"
	LogLevelDebug    LogLevel = "debug"
	LogLevelThinking LogLevel = "thinking"
)

func (l LogLevel) Valid() bool {
	switch l {
	case LogLevelInfo, LogLevelWarn, LogLevelError, LogLevelDebug, LogLevelThinking:
		return true
	}
	return false
}

// ArticleType is the closed set of article archetypes a job may target.
type ArticleType string

const (
	ArticleTypeInformational ArticleType = "informational"
	ArticleTypeHowTo         ArticleType = "howto"
	ArticleTypeListicle      ArticleType = "listicle"
	ArticleTypeComparison    ArticleType = "comparison"
	ArticleTypeReview        ArticleType = "review"
	ArticleTypeBuyingGuide   ArticleType = "buying_guide"
	ArticleTypeNews          ArticleType = "news"
	ArticleTypeOpinion       ArticleType = "opinion"
)

func (t ArticleType) Valid() bool {
	switch t {
	case ArticleTypeInformational, ArticleTypeHowTo, ArticleTypeListicle, ArticleTypeComparison,
		ArticleTypeReview, ArticleTypeBuyingGuide, ArticleTypeNews, ArticleTypeOpinion:
		return true
	}
	return false
}

// GenerationStatus is the closed state machine a job moves through.
type GenerationStatus string

const (
	StatusQueued               GenerationStatus = "queued"
	StatusProcessing           GenerationStatus = "processing"
	StatusParsingSERP          GenerationStatus = "parsing_serp"
	StatusAnalyzingStructure   GenerationStatus = "analyzing_structure"
	StatusEnrichingBlocks      GenerationStatus = "enriching_blocks"
	StatusAnsweringQuestions   GenerationStatus = "answering_questions"
	StatusWritingArticle       GenerationStatus = "writing_article"
	StatusInsertingLinks       GenerationStatus = "inserting_links"
	StatusReviewingArticle     GenerationStatus = "reviewing_article"
	StatusPausedAfterSERP      GenerationStatus = "paused_after_serp"
	StatusPausedAfterStructure GenerationStatus = "paused_after_structure"
	StatusPausedAfterBlocks    GenerationStatus = "paused_after_blocks"
	StatusPausedAfterAnswers  GenerationStatus = "paused_after_answers"
	StatusPausedAfterWriting  GenerationStatus = "paused_after_writing"
	StatusPausedAfterReview   GenerationStatus = "paused_after_review"
	StatusCompleted           GenerationStatus = "completed"
	StatusFailed              GenerationStatus = "failed"
)

func (s GenerationStatus) Valid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusParsingSERP, StatusAnalyzingStructure,
		StatusEnrichingBlocks, StatusAnsweringQuestions, StatusWritingArticle,
		StatusInsertingLinks, StatusReviewingArticle,
		StatusPausedAfterSERP, StatusPausedAfterStructure, StatusPausedAfterBlocks,
		StatusPausedAfterAnswers, StatusPausedAfterWriting, StatusPausedAfterReview,
		StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// IsPause reports whether a status is one of the six pause points.
func (s GenerationStatus) IsPause() bool {
	switch s {
	case StatusPausedAfterSERP, StatusPausedAfterStructure, StatusPausedAfterBlocks,
		StatusPausedAfterAnswers, StatusPausedAfterWriting, StatusPausedAfterReview:
		return true
	}
	return false
}

// IsTerminal reports whether a status ends the job's run.
func (s GenerationStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// BlockType types one structural unit of the assembled article.
type BlockType string

const (
	BlockH1         BlockType = "h1"
	BlockIntro      BlockType = "intro"
	BlockH2         BlockType = "h2"
	BlockH3         BlockType = "h3"
	BlockConclusion BlockType = "conclusion"
	BlockFAQ        BlockType = "faq"
)

func (b BlockType) Valid() bool {
	switch b {
	case BlockH1, BlockIntro, BlockH2, BlockH3, BlockConclusion, BlockFAQ:
		return true
	}
	return false
}

// CarriesQuestions reports whether blocks of this type are allowed to carry
// research questions. h1, intro and faq never do.
func (b BlockType) CarriesQuestions() bool {
	switch b {
	case BlockH1, BlockIntro, BlockFAQ:
		return false
	default:
		return true
	}
}

// LinkDisplay is the rendering style requested for an internal-link descriptor.
type LinkDisplay string

const (
	LinkDisplayInline    LinkDisplay = "inline"
	LinkDisplayListStart LinkDisplay = "list-start"
	LinkDisplayListEnd   LinkDisplay = "list-end"
	LinkDisplaySidebar   LinkDisplay = "sidebar"
)

func (d LinkDisplay) Valid() bool {
	switch d {
	case LinkDisplayInline, LinkDisplayListStart, LinkDisplayListEnd, LinkDisplaySidebar:
		return true
	}
	return false
}

// LinkPosition is the target area an internal-link descriptor should land in.
type LinkPosition string

const (
	LinkPositionIntro      LinkPosition = "intro"
	LinkPositionBody       LinkPosition = "body"
	LinkPositionConclusion LinkPosition = "conclusion"
	LinkPositionAny        LinkPosition = "any"
)

func (p LinkPosition) Valid() bool {
	switch p {
	case LinkPositionIntro, LinkPositionBody, LinkPositionConclusion, LinkPositionAny:
		return true
	}
	return false
}

// LogEntry is one append-only event log line on a Job.
type LogEntry struct {
	At             time.Time              `json:"at"`
	Level          LogLevel               `json:"level"`
	Message        string                 `json:"message"`
	AdditionalData map[string]interface{} `json:"additionalData,omitempty"`
}

// SerpEntry is one scraped competitor page gathered during stage 1.
type SerpEntry struct {
	URL       string   `json:"url"`
	Title     string   `json:"title"`
	Rank      int      `json:"rank"`
	Headings  []string `json:"headings,omitempty"`
	Body      string   `json:"body,omitempty"`
	WordCount int      `json:"wordCount"`
	Error     string   `json:"error,omitempty"`
}

// StructureAnalysis is the single competitor-structure synthesis produced by stage 2.
type StructureAnalysis struct {
	AverageWordCount     int      `json:"averageWordCount"`
	CommonPatterns       []string `json:"commonPatterns,omitempty"`
	Strengths            []string `json:"strengths,omitempty"`
	Weaknesses           []string `json:"weaknesses,omitempty"`
	RecommendedStructure []Block  `json:"recommendedStructure,omitempty"`
}

// AnsweredQuestion is a research question resolved against the vector store in stage 4.
type AnsweredQuestion struct {
	Question   string  `json:"question"`
	Answer     string  `json:"answer"`
	Source     string  `json:"source"`
	Similarity float64 `json:"similarity"`
}

// Block is one structural unit of the final article.
type Block struct {
	ID                int                `json:"id"`
	Type              BlockType          `json:"type"`
	Heading           string             `json:"heading"`
	Instruction       string             `json:"instruction"`
	LSI               []string           `json:"lsi,omitempty"`
	Questions         []string           `json:"questions,omitempty"`
	AnsweredQuestions []AnsweredQuestion `json:"answeredQuestions,omitempty"`
	Content           string             `json:"content,omitempty"`
}

// InternalLink is one requested internal link to be woven into the article.
type InternalLink struct {
	URL        string       `json:"url"`
	Anchor     string       `json:"anchor,omitempty"`
	Anchorless bool         `json:"anchorless,omitempty"`
	Display    LinkDisplay  `json:"displayType"`
	Position   LinkPosition `json:"position"`
}

// Job is the central entity: one run of the seven-stage pipeline for one keyword.
type Job struct {
	ID        string `json:"id"`
	ProjectID string `json:"projectId"`
	OwnerID   string `json:"ownerId"`

	MainKeyword   string         `json:"mainKeyword"`
	ArticleType   ArticleType    `json:"articleType"`
	ExtraKeywords []string       `json:"extraKeywords,omitempty"`
	Language      string         `json:"language"`
	Region        string         `json:"region"`
	LSIKeywords   []string       `json:"lsiKeywords,omitempty"`
	StyleComment  string         `json:"styleComment,omitempty"`
	Continuous    bool           `json:"continuous"`
	InternalLinks []InternalLink `json:"internalLinks,omitempty"`

	Status      GenerationStatus `json:"status"`
	Progress    int              `json:"progress"`
	CurrentStep string           `json:"currentStep,omitempty"`
	Log         []LogEntry       `json:"log,omitempty"`

	SerpEntries       []SerpEntry        `json:"serpEntries,omitempty"`
	StructureAnalysis *StructureAnalysis `json:"structureAnalysis,omitempty"`
	Blocks            []Block            `json:"blocks,omitempty"`
	Article           string             `json:"article,omitempty"`
	SEOTitle          string             `json:"seoTitle,omitempty"`
	SEODescription    string             `json:"seoDescription,omitempty"`
	Error             string             `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Project groups jobs under one owner.
type Project struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"ownerId"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// CredentialKind names one of the three provider credentials a principal configures.
type CredentialKind string

const (
	CredentialSearch CredentialKind = "firecrawl"
	CredentialLLM    CredentialKind = "openrouter"
	CredentialVector CredentialKind = "supabase"
)

// CredentialEnvelope is the at-rest encrypted form of one provider credential.
type CredentialEnvelope struct {
	Ciphertext    string     `json:"ciphertext,omitempty"`
	Validated     bool       `json:"validated"`
	LastValidated *time.Time `json:"lastValidated,omitempty"`
}

// Principal is a stable account identity.
type Principal struct {
	ID           string                                 `json:"id"`
	Email        string                                 `json:"email"`
	PasswordHash string                                 `json:"-"`
	PinHash      string                                 `json:"-"`
	HasPin       bool                                   `json:"hasPinConfigured"`
	Credentials  map[CredentialKind]CredentialEnvelope `json:"credentials,omitempty"`
	CreatedAt    time.Time                              `json:"createdAt"`
}

// PinAttempt tracks brute-force attempts against one principal's PIN from one source IP.
type PinAttempt struct {
	IP          string    `json:"ip"`
	PrincipalID string    `json:"principalId"`
	Attempts    int       `json:"attempts"`
	Blocked     bool      `json:"blocked"`
	LastAttempt time.Time `json:"lastAttempt"`
}
