package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-coding-session/internal/models"
)

// ErrSnapshotNotFound indicates no snapshot is stored for the key.
var ErrSnapshotNotFound = errors.New("session snapshot not found")

// SnapshotRepository is the storage port behind the session store. Payloads are opaque
// serialized snapshots; decoding and fail-open handling belong to the caller.
type SnapshotRepository interface {
	Get(ctx context.Context, key models.SessionKey) ([]byte, error)
	Put(ctx context.Context, key models.SessionKey, payload []byte) error
	Delete(ctx context.Context, key models.SessionKey) error
	MarkCompleted(ctx context.Context, key models.SessionKey) error
	IsCompleted(ctx context.Context, key models.SessionKey) (bool, error)
}

// NewRedisSnapshotRepository stores snapshots under "<prefix>:<testID>:<candidateID>".
func NewRedisSnapshotRepository(client *redis.Client, prefix string, ttl time.Duration) SnapshotRepository {
	if prefix == "" {
		prefix = "coding-session"
	}
	return &redisSnapshotRepository{client: client, prefix: prefix, ttl: ttl}
}

type redisSnapshotRepository struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func (r *redisSnapshotRepository) key(key models.SessionKey) string {
	return fmt.Sprintf("%s:%s:%s", r.prefix, key.TestID, key.CandidateID)
}

func (r *redisSnapshotRepository) completedKey(key models.SessionKey) string {
	return r.key(key) + ":completed"
}

func (r *redisSnapshotRepository) Get(ctx context.Context, key models.SessionKey) ([]byte, error) {
	payload, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSnapshotNotFound
		}
		return nil, err
	}
	return payload, nil
}

func (r *redisSnapshotRepository) Put(ctx context.Context, key models.SessionKey, payload []byte) error {
	return r.client.Set(ctx, r.key(key), payload, r.ttl).Err()
}

func (r *redisSnapshotRepository) Delete(ctx context.Context, key models.SessionKey) error {
	return r.client.Del(ctx, r.key(key)).Err()
}

func (r *redisSnapshotRepository) MarkCompleted(ctx context.Context, key models.SessionKey) error {
	return r.client.Set(ctx, r.completedKey(key), time.Now().UTC().Format(time.RFC3339), r.ttl).Err()
}

func (r *redisSnapshotRepository) IsCompleted(ctx context.Context, key models.SessionKey) (bool, error) {
	count, err := r.client.Exists(ctx, r.completedKey(key)).Result()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// NewGormSnapshotRepository stores snapshots in the session_snapshots table.
func NewGormSnapshotRepository(db *gorm.DB) SnapshotRepository {
	return &gormSnapshotRepository{db: db}
}

type gormSnapshotRepository struct {
	db *gorm.DB
}

func (r *gormSnapshotRepository) find(ctx context.Context, key models.SessionKey) (models.SessionSnapshotRecord, error) {
	var record models.SessionSnapshotRecord
	err := r.db.WithContext(ctx).
		Where("test_id = ? AND candidate_id = ?", key.TestID, key.CandidateID).
		First(&record).Error
	return record, err
}

func (r *gormSnapshotRepository) Get(ctx context.Context, key models.SessionKey) ([]byte, error) {
	record, err := r.find(ctx, key)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSnapshotNotFound
		}
		return nil, err
	}
	if len(record.Payload) == 0 {
		return nil, ErrSnapshotNotFound
	}
	return record.Payload, nil
}

func (r *gormSnapshotRepository) Put(ctx context.Context, key models.SessionKey, payload []byte) error {
	record := models.SessionSnapshotRecord{
		TestID:      key.TestID,
		CandidateID: key.CandidateID,
		Payload:     payload,
		UpdatedAt:   time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "test_id"}, {Name: "candidate_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
	}).Create(&record).Error
}

func (r *gormSnapshotRepository) Delete(ctx context.Context, key models.SessionKey) error {
	return r.db.WithContext(ctx).
		Model(&models.SessionSnapshotRecord{}).
		Where("test_id = ? AND candidate_id = ?", key.TestID, key.CandidateID).
		Updates(map[string]interface{}{"payload": []byte{}, "updated_at": time.Now().UTC()}).Error
}

func (r *gormSnapshotRepository) MarkCompleted(ctx context.Context, key models.SessionKey) error {
	record := models.SessionSnapshotRecord{
		TestID:      key.TestID,
		CandidateID: key.CandidateID,
		Payload:     []byte{},
		Completed:   true,
		UpdatedAt:   time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "test_id"}, {Name: "candidate_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"completed", "updated_at"}),
	}).Create(&record).Error
}

func (r *gormSnapshotRepository) IsCompleted(ctx context.Context, key models.SessionKey) (bool, error) {
	record, err := r.find(ctx, key)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return record.Completed, nil
}
