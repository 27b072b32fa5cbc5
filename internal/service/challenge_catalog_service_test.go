package service

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-coding-session/internal/models"
	"github.com/noah-isme/gema-coding-session/internal/repository"
)

const yamlCatalog = `
tests:
  - id: test-1
    title: Warmup
    challenges:
      - id: sum
        title: Sum two numbers
        description: "<p>Add them</p><script>alert(1)</script>"
        problemStatement: Read two integers and print their sum.
        allowedLanguages: [Python, go]
        languageImplementations:
          python:
            visibleCode: "def solve(a, b):\n    pass"
            invisibleCode: "print(solve(*map(int, input().split())))"
          go:
            visibleCode: "package main"
        testCases:
          - input: "1 2"
            output: "3"
          - input: "5 5"
            output: "10"
            isVisible: false
        marks: 10
        difficulty: easy
      - id: reverse
        title: Reverse a string
        allowedLanguages: [python]
        languageImplementations:
          python:
            visibleCode: "def solve(s):\n    pass"
        testCases:
          - input: "abc"
            output: "cba"
        marks: 5
        difficulty: medium
`

func newCatalogFixture(t *testing.T) (ChallengeCatalogService, *gorm.DB, *miniredis.Miniredis) {
	t.Helper()

	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.CodingTest{}, &models.Challenge{}))

	mini, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mini.Close)
	redisClient := redis.NewClient(&redis.Options{Addr: mini.Addr()})

	svc := NewChallengeCatalogService(
		repository.NewChallengeRepository(db),
		redisClient,
		time.Minute,
		validator.New(validator.WithRequiredStructEnabled()),
		zerolog.Nop(),
	)
	return svc, db, mini
}

func TestChallengeCatalogImportYAML(t *testing.T) {
	svc, _, mini := newCatalogFixture(t)
	ctx := context.Background()

	result, err := svc.Import(ctx, []byte(yamlCatalog))
	require.NoError(t, err)
	require.Len(t, result.Tests, 1)
	require.Equal(t, "test-1", result.Tests[0].ID)
	require.Equal(t, 2, result.Tests[0].Challenges)

	challenges, err := svc.Challenges(ctx, "test-1")
	require.NoError(t, err)
	require.Len(t, challenges, 2)

	sum := challenges[0]
	require.Equal(t, "sum", sum.ID)
	require.Equal(t, []string{"python", "go"}, []string(sum.AllowedLanguages))
	require.Equal(t, "python", sum.DefaultLanguage())
	require.NotContains(t, sum.Description, "<script>")
	require.Contains(t, sum.Description, "<p>Add them</p>")
	require.Equal(t, "print(solve(*map(int, input().split())))", sum.Implementation("python").InvisibleCode)
	require.Len(t, sum.TestCases, 2)
	require.True(t, sum.TestCases[0].Visible())
	require.False(t, sum.TestCases[1].Visible())

	require.Equal(t, "reverse", challenges[1].ID)
	require.True(t, mini.Exists("coding-test:test-1:challenges"))
}

func TestChallengeCatalogImportJSONReplacesAndInvalidatesCache(t *testing.T) {
	svc, _, mini := newCatalogFixture(t)
	ctx := context.Background()

	_, err := svc.Import(ctx, []byte(yamlCatalog))
	require.NoError(t, err)
	_, err = svc.Challenges(ctx, "test-1")
	require.NoError(t, err)
	require.True(t, mini.Exists("coding-test:test-1:challenges"))

	document := `{"tests":[{"id":"test-1","title":"Warmup v2","challenges":[` +
		`{"id":"only","title":"Only one","allowedLanguages":["go"],` +
		`"languageImplementations":{"go":{"visibleCode":"package main"}},` +
		`"testCases":[{"input":"x","output":"y"}]}]}]}`
	_, err = svc.Import(ctx, []byte(document))
	require.NoError(t, err)
	require.False(t, mini.Exists("coding-test:test-1:challenges"))

	challenges, err := svc.Challenges(ctx, "test-1")
	require.NoError(t, err)
	require.Len(t, challenges, 1)
	require.Equal(t, "only", challenges[0].ID)
}

func TestChallengeCatalogRejectsInvalidDocuments(t *testing.T) {
	svc, _, _ := newCatalogFixture(t)

	tests := []struct {
		name     string
		document string
	}{
		{name: "empty", document: ""},
		{name: "no tests", document: `{"tests":[]}`},
		{name: "missing implementation", document: `{"tests":[{"id":"t","title":"T","challenges":[{"id":"a","title":"A","allowedLanguages":["go"],"languageImplementations":{}}]}]}`},
		{name: "duplicate challenge", document: `{"tests":[{"id":"t","title":"T","challenges":[` +
			`{"id":"a","title":"A","allowedLanguages":["go"],"languageImplementations":{"go":{}}},` +
			`{"id":"a","title":"B","allowedLanguages":["go"],"languageImplementations":{"go":{}}}]}]}`},
		{name: "bad difficulty", document: `{"tests":[{"id":"t","title":"T","challenges":[{"id":"a","title":"A","difficulty":"extreme","allowedLanguages":["go"],"languageImplementations":{"go":{}}}]}]}`},
		{name: "binary", document: "\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Import(context.Background(), []byte(tt.document))
			require.ErrorIs(t, err, ErrInvalidCatalog)
		})
	}
}

func TestChallengeCatalogImportFileAndUnknownTest(t *testing.T) {
	svc, _, _ := newCatalogFixture(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlCatalog), 0o600))

	result, err := svc.ImportFile(ctx, path)
	require.NoError(t, err)
	require.Len(t, result.Tests, 1)

	_, err = svc.Challenges(ctx, "unknown")
	require.ErrorIs(t, err, ErrTestNotFound)

	_, err = svc.ImportFile(ctx, filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
