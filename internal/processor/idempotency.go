package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cantina/credit-ledger/pkg/logger"
	"github.com/cantina/credit-ledger/pkg/redis"
)

var (
	ErrAlreadyProcessed   = errors.New("event already processed")
	ErrLockAcquireFailed  = errors.New("failed to acquire processing lock")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
)

type IdempotencyConfig struct {
	LockTTL time.Duration

	ProcessedTTL time.Duration

	MaxRetries int

	RetryKeyPrefix string

	LockKeyPrefix string

	ProcessedKeyPrefix string
}

func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		LockTTL:            30 * time.Second,
		ProcessedTTL:       24 * time.Hour,
		MaxRetries:         3,
		RetryKeyPrefix:     "audit:retry:",
		LockKeyPrefix:      "audit:lock:",
		ProcessedKeyPrefix: "audit:processed:",
	}
}

// IdempotencyService guards event processing with redis: a short-term lock
// keeps two consumers off the same event, a long-term marker stops a replayed
// event from writing a second audit row, and a retry counter bounds how often
// a poisonous event gets re-attempted.
type IdempotencyService struct {
	redis  redis.RedisAdapter
	config IdempotencyConfig
}

func NewIdempotencyService(redisAdapter redis.RedisAdapter, config IdempotencyConfig) *IdempotencyService {
	return &IdempotencyService{
		redis:  redisAdapter,
		config: config,
	}
}

type ProcessingContext struct {
	EventID      string
	RetryCount   int
	IsRetry      bool
	lockAcquired bool
	service      *IdempotencyService
}

func (s *IdempotencyService) AcquireProcessingLock(ctx context.Context, eventID string) (*ProcessingContext, error) {
	processedKey := s.config.ProcessedKeyPrefix + eventID
	exists, err := s.redis.Exist(processedKey)
	if err != nil {
		logger.Warn("Failed to check processed status", "payment_id", eventID, "error", err)
		// Continue even if the check fails; a duplicate audit row beats a
		// stalled consumer, and the unique index catches it anyway.
	} else if exists > 0 {
		return nil, ErrAlreadyProcessed
	}

	retryKey := s.config.RetryKeyPrefix + eventID
	retryCountBytes, err := s.redis.Get(retryKey)
	retryCount := 0
	if err == nil && len(retryCountBytes) > 0 {
		fmt.Sscanf(string(retryCountBytes), "%d", &retryCount)
	}

	if retryCount >= s.config.MaxRetries {
		logger.Error("Max retries exceeded for event", "payment_id", eventID, "retry_count", retryCount)
		return nil, fmt.Errorf("%w: payment_id=%s, retries=%d", ErrMaxRetriesExceeded, eventID, retryCount)
	}

	lockKey := s.config.LockKeyPrefix + eventID
	lockValue := []byte(fmt.Sprintf("%d", time.Now().UnixNano()))

	acquired, err := s.redis.SetNX(lockKey, lockValue, s.config.LockTTL)
	if err != nil {
		logger.Error("Failed to acquire lock", "payment_id", eventID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrLockAcquireFailed, err)
	}
	if !acquired {
		logger.Info("Lock already held by another consumer", "payment_id", eventID)
		return nil, ErrLockAcquireFailed
	}

	logger.Debug("Processing lock acquired",
		"payment_id", eventID,
		"retry_count", retryCount,
		"lock_ttl", s.config.LockTTL)

	return &ProcessingContext{
		EventID:      eventID,
		RetryCount:   retryCount,
		IsRetry:      retryCount > 0,
		lockAcquired: true,
		service:      s,
	}, nil
}

func (s *IdempotencyService) MarkSuccess(ctx context.Context, pc *ProcessingContext) error {
	eventID := pc.EventID

	processedKey := s.config.ProcessedKeyPrefix + eventID
	err := s.redis.Set(processedKey, []byte("1"), s.config.ProcessedTTL)
	if err != nil {
		logger.Error("Failed to mark event as processed", "payment_id", eventID, "error", err)
		return fmt.Errorf("failed to mark as processed: %w", err)
	}

	s.cleanup(ctx, pc)

	logger.Info("Event marked as successfully processed",
		"payment_id", eventID,
		"retry_count", pc.RetryCount)

	return nil
}

func (s *IdempotencyService) MarkFailure(ctx context.Context, pc *ProcessingContext, reason error) error {
	eventID := pc.EventID

	retryKey := s.config.RetryKeyPrefix + eventID
	newRetryCount := pc.RetryCount + 1
	retryValue := []byte(fmt.Sprintf("%d", newRetryCount))

	// Keep the counter alive across retries.
	err := s.redis.Set(retryKey, retryValue, s.config.ProcessedTTL)
	if err != nil {
		logger.Error("Failed to increment retry counter", "payment_id", eventID, "error", err)
	}

	lockKey := s.config.LockKeyPrefix + eventID
	if err := s.redis.Del(lockKey); err != nil {
		logger.Warn("Failed to remove lock", "payment_id", eventID, "error", err)
	}

	logger.Warn("Event processing failed, will retry",
		"payment_id", eventID,
		"retry_count", newRetryCount,
		"max_retries", s.config.MaxRetries,
		"reason", reason)

	return nil
}

func (s *IdempotencyService) ReleaseLock(ctx context.Context, pc *ProcessingContext) error {
	if pc == nil || !pc.lockAcquired {
		return nil
	}

	lockKey := s.config.LockKeyPrefix + pc.EventID
	if err := s.redis.Del(lockKey); err != nil {
		logger.Warn("Failed to release lock", "payment_id", pc.EventID, "error", err)
		return err
	}

	pc.lockAcquired = false
	logger.Debug("Processing lock released", "payment_id", pc.EventID)
	return nil
}

func (s *IdempotencyService) cleanup(ctx context.Context, pc *ProcessingContext) {
	eventID := pc.EventID

	lockKey := s.config.LockKeyPrefix + eventID
	if err := s.redis.Del(lockKey); err != nil {
		logger.Warn("Failed to cleanup lock", "payment_id", eventID, "error", err)
	}

	retryKey := s.config.RetryKeyPrefix + eventID
	if err := s.redis.Del(retryKey); err != nil {
		logger.Warn("Failed to cleanup retry counter", "payment_id", eventID, "error", err)
	}

	pc.lockAcquired = false
}

func (s *IdempotencyService) GetRetryCount(ctx context.Context, eventID string) (int, error) {
	retryKey := s.config.RetryKeyPrefix + eventID
	retryCountBytes, err := s.redis.Get(retryKey)
	if err != nil {
		if err == redis.NilError {
			return 0, nil
		}
		return 0, err
	}

	retryCount := 0
	fmt.Sscanf(string(retryCountBytes), "%d", &retryCount)
	return retryCount, nil
}

func (s *IdempotencyService) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	processedKey := s.config.ProcessedKeyPrefix + eventID
	exists, err := s.redis.Exist(processedKey)
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}
