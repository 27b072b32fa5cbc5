package dto

import "github.com/noah-isme/gema-coding-session/internal/models"

// CatalogDocument is the import format for test definitions, accepted as YAML or JSON.
type CatalogDocument struct {
	Tests []TestDefinition `json:"tests" yaml:"tests" validate:"required,min=1,dive"`
}

// TestDefinition describes one coding test and its ordered challenges.
type TestDefinition struct {
	ID         string                `json:"id" yaml:"id" validate:"required,max=64"`
	Title      string                `json:"title" yaml:"title" validate:"required,max=255"`
	Challenges []ChallengeDefinition `json:"challenges" yaml:"challenges" validate:"required,min=1,dive"`
}

// ChallengeDefinition describes one challenge.
type ChallengeDefinition struct {
	ID                      string                                   `json:"id" yaml:"id" validate:"required,max=64"`
	Title                   string                                   `json:"title" yaml:"title" validate:"required,max=255"`
	Description             string                                   `json:"description" yaml:"description"`
	ProblemStatement        string                                   `json:"problemStatement" yaml:"problemStatement"`
	Constraints             string                                   `json:"constraints" yaml:"constraints"`
	AllowedLanguages        []string                                 `json:"allowedLanguages" yaml:"allowedLanguages" validate:"required,min=1,dive,required,max=32"`
	LanguageImplementations map[string]models.LanguageImplementation `json:"languageImplementations" yaml:"languageImplementations"`
	TestCases               []models.TestCase                        `json:"testCases" yaml:"testCases"`
	Marks                   float64                                  `json:"marks" yaml:"marks" validate:"min=0"`
	TimeLimit               int                                      `json:"timeLimit" yaml:"timeLimit" validate:"min=0"`
	MemoryLimit             int                                      `json:"memoryLimit" yaml:"memoryLimit" validate:"min=0"`
	Difficulty              string                                   `json:"difficulty" yaml:"difficulty" validate:"omitempty,oneof=easy medium hard"`
}

// CatalogImportResponse summarises an import.
type CatalogImportResponse struct {
	Tests []CatalogTestSummary `json:"tests"`
}

// CatalogTestSummary is one imported test.
type CatalogTestSummary struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Challenges int    `json:"challenges"`
}
