package models

import (
	"time"

	"gorm.io/datatypes"
)

// CodingTest groups the ordered challenges of one test definition.
type CodingTest struct {
	ID         string      `gorm:"primaryKey;size:64" json:"id"`
	Title      string      `gorm:"size:255;not null" json:"title"`
	Challenges []Challenge `gorm:"foreignKey:TestID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"challenges"`
	CreatedAt  time.Time   `json:"createdAt"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}

// LanguageImplementation holds the editable starter code and the hidden harness for a language.
type LanguageImplementation struct {
	VisibleCode   string `json:"visibleCode" yaml:"visibleCode"`
	InvisibleCode string `json:"invisibleCode" yaml:"invisibleCode"`
}

// TestCase is a single input/expected-output pair. A nil IsVisible counts as visible.
type TestCase struct {
	Input       string `json:"input" yaml:"input"`
	Output      string `json:"output" yaml:"output"`
	IsVisible   *bool  `json:"isVisible,omitempty" yaml:"isVisible,omitempty"`
	Explanation string `json:"explanation,omitempty" yaml:"explanation,omitempty"`
}

// Visible reports whether the case may be disclosed during preview runs.
func (t TestCase) Visible() bool {
	return t.IsVisible == nil || *t.IsVisible
}

// Challenge is an immutable coding problem supplied by the test definition.
type Challenge struct {
	ID                      string                                                `gorm:"primaryKey;size:64" json:"id"`
	TestID                  string                                                `gorm:"size:64;index;not null" json:"testId"`
	Position                int                                                   `gorm:"not null;default:0" json:"position"`
	Title                   string                                                `gorm:"size:255;not null" json:"title"`
	Description             string                                                `gorm:"type:text" json:"description"`
	ProblemStatement        string                                                `gorm:"type:text" json:"problemStatement"`
	Constraints             string                                                `gorm:"type:text" json:"constraints"`
	AllowedLanguages        datatypes.JSONSlice[string]                           `json:"allowedLanguages"`
	LanguageImplementations datatypes.JSONType[map[string]LanguageImplementation] `json:"languageImplementations"`
	TestCases               datatypes.JSONSlice[TestCase]                         `json:"testCases"`
	Marks                   float64                                               `gorm:"default:0" json:"marks"`
	TimeLimit               int                                                   `gorm:"default:0" json:"timeLimit"`
	MemoryLimit             int                                                   `gorm:"default:0" json:"memoryLimit"`
	Difficulty              string                                                `gorm:"size:32" json:"difficulty"`
	CreatedAt               time.Time                                             `json:"createdAt"`
	UpdatedAt               time.Time                                             `json:"updatedAt"`
}

// AllowsLanguage reports whether the language is one of the challenge's allowed languages.
func (c Challenge) AllowsLanguage(language string) bool {
	for _, allowed := range c.AllowedLanguages {
		if allowed == language {
			return true
		}
	}
	return false
}

// DefaultLanguage returns the first allowed language, or "" when none is configured.
func (c Challenge) DefaultLanguage() string {
	if len(c.AllowedLanguages) == 0 {
		return ""
	}
	return c.AllowedLanguages[0]
}

// Implementation returns the starter/harness pair for a language.
func (c Challenge) Implementation(language string) LanguageImplementation {
	impls := c.LanguageImplementations.Data()
	if impls == nil {
		return LanguageImplementation{}
	}
	return impls[language]
}
