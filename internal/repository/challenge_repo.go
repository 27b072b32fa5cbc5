package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-coding-session/internal/models"
)

// ChallengeRepository exposes persistence helpers for test definitions.
type ChallengeRepository interface {
	GetTest(ctx context.Context, testID string) (models.CodingTest, error)
	ListChallenges(ctx context.Context, testID string) ([]models.Challenge, error)
	SaveTest(ctx context.Context, test *models.CodingTest) error
}

// NewChallengeRepository constructs a challenge repository.
func NewChallengeRepository(db *gorm.DB) ChallengeRepository {
	return &challengeRepository{db: db}
}

type challengeRepository struct {
	db *gorm.DB
}

func (r *challengeRepository) GetTest(ctx context.Context, testID string) (models.CodingTest, error) {
	var test models.CodingTest
	err := r.db.WithContext(ctx).
		Preload("Challenges", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC").Order("id ASC")
		}).
		First(&test, "id = ?", testID).Error
	if err != nil {
		return models.CodingTest{}, err
	}
	return test, nil
}

func (r *challengeRepository) ListChallenges(ctx context.Context, testID string) ([]models.Challenge, error) {
	var challenges []models.Challenge
	err := r.db.WithContext(ctx).
		Where("test_id = ?", testID).
		Order("position ASC").
		Order("id ASC").
		Find(&challenges).Error
	if err != nil {
		return nil, err
	}
	return challenges, nil
}

// SaveTest replaces the test definition and its challenges atomically.
func (r *challengeRepository) SaveTest(ctx context.Context, test *models.CodingTest) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		challenges := test.Challenges
		test.Challenges = nil

		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"title", "updated_at"}),
		}).Create(test).Error; err != nil {
			return err
		}

		if err := tx.Where("test_id = ?", test.ID).Delete(&models.Challenge{}).Error; err != nil {
			return err
		}

		for i := range challenges {
			challenges[i].TestID = test.ID
			challenges[i].Position = i
		}
		if len(challenges) > 0 {
			if err := tx.Create(&challenges).Error; err != nil {
				return err
			}
		}

		test.Challenges = challenges
		return nil
	})
}
