package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-coding-session/internal/dto"
	"github.com/noah-isme/gema-coding-session/internal/models"
	"github.com/noah-isme/gema-coding-session/internal/repository"
)

const maxCatalogBytes = 4 << 20

var (
	// ErrTestNotFound indicates no test definition exists for the id.
	ErrTestNotFound = errors.New("coding test not found")
	// ErrInvalidCatalog indicates an import document could not be accepted.
	ErrInvalidCatalog = errors.New("invalid challenge catalog")
)

// ChallengeCatalogService loads and imports the immutable challenge definitions.
type ChallengeCatalogService interface {
	Challenges(ctx context.Context, testID string) ([]models.Challenge, error)
	Import(ctx context.Context, data []byte) (dto.CatalogImportResponse, error)
	ImportFile(ctx context.Context, path string) (dto.CatalogImportResponse, error)
}

type challengeCatalogService struct {
	repo      repository.ChallengeRepository
	cache     *redis.Client
	cacheTTL  time.Duration
	validator *validator.Validate
	sanitizer *bluemonday.Policy
	logger    zerolog.Logger
}

// NewChallengeCatalogService constructs the catalog service. A nil cache disables caching.
func NewChallengeCatalogService(repo repository.ChallengeRepository, cache *redis.Client, ttl time.Duration, validate *validator.Validate, logger zerolog.Logger) ChallengeCatalogService {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &challengeCatalogService{
		repo:      repo,
		cache:     cache,
		cacheTTL:  ttl,
		validator: validate,
		sanitizer: bluemonday.UGCPolicy(),
		logger:    logger.With().Str("component", "challenge_catalog_service").Logger(),
	}
}

func (s *challengeCatalogService) cacheKey(testID string) string {
	return fmt.Sprintf("coding-test:%s:challenges", testID)
}

func (s *challengeCatalogService) Challenges(ctx context.Context, testID string) ([]models.Challenge, error) {
	testID = strings.TrimSpace(testID)
	if testID == "" {
		return nil, ErrTestNotFound
	}

	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, s.cacheKey(testID)).Bytes(); err == nil {
			var challenges []models.Challenge
			if unmarshalErr := json.Unmarshal(cached, &challenges); unmarshalErr == nil {
				s.logger.Debug().Str("test_id", testID).Msg("challenge cache hit")
				return challenges, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			s.logger.Warn().Err(err).Msg("failed to read challenge cache")
		}
	}

	challenges, err := s.repo.ListChallenges(ctx, testID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTestNotFound
		}
		return nil, err
	}
	if len(challenges) == 0 {
		return nil, ErrTestNotFound
	}

	if s.cache != nil {
		if payload, err := json.Marshal(challenges); err == nil {
			if err := s.cache.Set(ctx, s.cacheKey(testID), payload, s.cacheTTL).Err(); err != nil {
				s.logger.Warn().Err(err).Msg("failed to store challenge cache")
			}
		}
	}

	return challenges, nil
}

func (s *challengeCatalogService) ImportFile(ctx context.Context, path string) (dto.CatalogImportResponse, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return dto.CatalogImportResponse{}, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return s.Import(ctx, data)
}

func (s *challengeCatalogService) Import(ctx context.Context, data []byte) (dto.CatalogImportResponse, error) {
	document, err := s.decode(data)
	if err != nil {
		return dto.CatalogImportResponse{}, err
	}

	if err := s.validator.Struct(document); err != nil {
		return dto.CatalogImportResponse{}, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}

	response := dto.CatalogImportResponse{Tests: make([]dto.CatalogTestSummary, 0, len(document.Tests))}
	for _, definition := range document.Tests {
		test, err := s.toModel(definition)
		if err != nil {
			return dto.CatalogImportResponse{}, err
		}
		if err := s.repo.SaveTest(ctx, &test); err != nil {
			return dto.CatalogImportResponse{}, fmt.Errorf("save test %s: %w", test.ID, err)
		}
		s.invalidate(ctx, test.ID)

		response.Tests = append(response.Tests, dto.CatalogTestSummary{
			ID:         test.ID,
			Title:      test.Title,
			Challenges: len(test.Challenges),
		})
		s.logger.Info().
			Str("test_id", test.ID).
			Int("challenges", len(test.Challenges)).
			Msg("coding test imported")
	}

	return response, nil
}

func (s *challengeCatalogService) decode(data []byte) (dto.CatalogDocument, error) {
	var document dto.CatalogDocument
	if len(data) == 0 {
		return document, fmt.Errorf("%w: empty document", ErrInvalidCatalog)
	}
	if len(data) > maxCatalogBytes {
		return document, fmt.Errorf("%w: document too large", ErrInvalidCatalog)
	}

	mime := mimetype.Detect(data)
	switch {
	case mime.Is("application/json"):
		if err := json.Unmarshal(data, &document); err != nil {
			return document, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
		}
	case strings.HasPrefix(mime.String(), "text/"):
		if err := yaml.Unmarshal(data, &document); err != nil {
			return document, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
		}
	default:
		return document, fmt.Errorf("%w: unsupported content type %s", ErrInvalidCatalog, mime.String())
	}
	return document, nil
}

func (s *challengeCatalogService) toModel(definition dto.TestDefinition) (models.CodingTest, error) {
	test := models.CodingTest{
		ID:         strings.TrimSpace(definition.ID),
		Title:      strings.TrimSpace(definition.Title),
		Challenges: make([]models.Challenge, 0, len(definition.Challenges)),
	}

	seen := make(map[string]struct{}, len(definition.Challenges))
	for _, ch := range definition.Challenges {
		id := strings.TrimSpace(ch.ID)
		if _, dup := seen[id]; dup {
			return models.CodingTest{}, fmt.Errorf("%w: duplicate challenge id %s", ErrInvalidCatalog, id)
		}
		seen[id] = struct{}{}

		implementations := make(map[string]models.LanguageImplementation, len(ch.LanguageImplementations))
		for language, impl := range ch.LanguageImplementations {
			implementations[strings.ToLower(strings.TrimSpace(language))] = impl
		}

		languages := make([]string, 0, len(ch.AllowedLanguages))
		for _, language := range ch.AllowedLanguages {
			language = strings.ToLower(strings.TrimSpace(language))
			if _, ok := implementations[language]; !ok {
				return models.CodingTest{}, fmt.Errorf("%w: challenge %s has no implementation for %s", ErrInvalidCatalog, id, language)
			}
			languages = append(languages, language)
		}

		test.Challenges = append(test.Challenges, models.Challenge{
			ID:                      id,
			Title:                   strings.TrimSpace(ch.Title),
			Description:             s.sanitizer.Sanitize(ch.Description),
			ProblemStatement:        s.sanitizer.Sanitize(ch.ProblemStatement),
			Constraints:             s.sanitizer.Sanitize(ch.Constraints),
			AllowedLanguages:        datatypes.JSONSlice[string](languages),
			LanguageImplementations: datatypes.NewJSONType(implementations),
			TestCases:               datatypes.JSONSlice[models.TestCase](ch.TestCases),
			Marks:                   ch.Marks,
			TimeLimit:               ch.TimeLimit,
			MemoryLimit:             ch.MemoryLimit,
			Difficulty:              ch.Difficulty,
		})
	}

	return test, nil
}

func (s *challengeCatalogService) invalidate(ctx context.Context, testID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, s.cacheKey(testID)).Err(); err != nil {
		s.logger.Warn().Err(err).Str("test_id", testID).Msg("failed to invalidate challenge cache")
	}
}
