package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cantina/credit-ledger/internal/config"
	"github.com/cantina/credit-ledger/internal/queue"
	"github.com/cantina/credit-ledger/pkg/logger"
	"github.com/cantina/credit-ledger/pkg/redis"
	"github.com/cantina/credit-ledger/pkg/worker"
)

const ProcessingTimeout = time.Second * 5
const HealthInterval = time.Second * 30
const ShutdownTimeout = time.Minute

const consumerInstances = 4
const workerCount = 32
const workerQueueSize = 10_000

// ProcessorService drains the audit stream through a worker pool.
type ProcessorService struct {
	adapter   redis.RedisAdapter
	queues    []*queue.Queue
	processor Processor
	metrics   *ServiceMetrics
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	pool      *worker.Pool
}

// Processor handles one queue message; returning an error leaves the message
// pending for redelivery.
type Processor interface {
	Process(ctx context.Context, message *queue.Message) error
	GetType() string
}

func NewProcessorService(redis redis.RedisAdapter) (*ProcessorService, error) {
	ctx, cancel := context.WithCancel(context.Background())
	service := &ProcessorService{
		adapter: redis,
		queues:  make([]*queue.Queue, 0),
		metrics: NewServiceMetrics(),
		ctx:     ctx,
		cancel:  cancel,
		pool:    worker.NewPool(workerCount, workerQueueSize),
	}
	return service, nil
}

func (s *ProcessorService) RegisterProcessor(processor Processor) {
	s.processor = processor
	logger.Info("Registered processor", "type", processor.GetType())
}

func (s *ProcessorService) Start() error {
	logger.Info("Starting Auditor Service...")

	s.pool.SetHandler(s.workerHandler)
	s.pool.Start()

	for i := 0; i < consumerInstances; i++ {
		queueConfig := queue.QueueConfig{
			Name:              config.Get().QueueName,
			ConsumerGroup:     config.Get().QueueConsumerGroup,
			ConsumerName:      fmt.Sprintf("%s-instance-%d", config.Get().QueueConsumerName, i),
			MaxRetries:        config.Get().QueueMaxRetries,
			VisibilityTimeout: config.Get().QueueVisibilityTimeout,
			PollInterval:      config.Get().QueuePollInterval,
			BatchSize:         config.Get().QueueBatchSize,
			MaxLen:            config.Get().QueueMaxLen,
			EnableDLQ:         config.Get().QueueEnableDLQ,
		}

		q, err := queue.NewQueue(s.adapter, queueConfig)
		if err != nil {
			return fmt.Errorf("failed to create queue %d: %w", i, err)
		}

		if err := q.Consume(s.messageHandler); err != nil {
			return fmt.Errorf("failed to start consumer %d: %w", i, err)
		}

		s.queues = append(s.queues, q)
		logger.Info("Started consumer instance", "instance", i)
	}

	s.wg.Add(2)
	go s.metricsReporter()
	go s.healthChecker()

	logger.Info("Auditor Service started", "consumers", len(s.queues), "workers", workerCount)
	return nil
}

func (s *ProcessorService) metricsReporter() {
	defer s.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.reportMetrics()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *ProcessorService) reportMetrics() {
	stats := s.metrics.GetStats()

	logger.Info("Auditor metrics",
		"total_processed", stats["total_processed"],
		"total_failed", stats["total_failed"],
		"rate_per_second", stats["rate_per_second"],
		"avg_duration_ms", stats["avg_duration_ms"],
		"uptime_seconds", stats["uptime_seconds"])

	for i, q := range s.queues {
		if qStats, err := q.GetStats(); err == nil {
			logger.Info("Queue stats", "queue", i, "total", qStats.TotalMessages, "pending", qStats.PendingMessages)
		}
	}
}

func (s *ProcessorService) healthChecker() {
	defer s.wg.Done()

	ticker := time.NewTicker(HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.performHealthCheck()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *ProcessorService) performHealthCheck() {
	if err := s.adapter.Client().Ping(context.Background()).Err(); err != nil {
		logger.Error("HEALTH CHECK FAILED: Redis connection error", "error", err)
		return
	}

	for i, q := range s.queues {
		stats, err := q.GetStats()
		if err != nil {
			logger.Warn("HEALTH CHECK WARNING: Queue stats unavailable", "queue", i, "error", err)
			continue
		}
		if stats.PendingMessages > 10000 {
			logger.Warn("HEALTH CHECK WARNING: Queue has high lag", "queue", i, "pending_messages", stats.PendingMessages)
		}
	}

	logger.Info("HEALTH CHECK: OK - Service healthy")
}

func (s *ProcessorService) Stop() {
	logger.Info("Shutting down Auditor Service...")

	s.cancel()

	timeout := ShutdownTimeout
	stopChan := make(chan bool, len(s.queues))

	for i, q := range s.queues {
		go func(index int, queue *queue.Queue) {
			if err := queue.Stop(timeout); err != nil {
				logger.Error("Error stopping queue", "queue", index, "error", err)
			}
			stopChan <- true
		}(i, q)
	}

	for range s.queues {
		select {
		case <-stopChan:
		case <-time.After(timeout + 5*time.Second):
			logger.Warn("Timeout waiting for queues to stop")
		}
	}

	s.pool.Close()
	s.pool.Wait()

	s.wg.Wait()

	s.reportMetrics()

	logger.Info("Auditor Service stopped")
}

type jobResult struct {
	msg        *queue.Message
	resultChan chan error
	ctx        context.Context
}

// messageHandler hands the stream message to the worker pool and blocks until
// a worker reports back, so acks stay tied to actual processing.
func (s *ProcessorService) messageHandler(ctx context.Context, msg *queue.Message) error {
	resultChan := make(chan error, 1)

	msgCtx, cancel := context.WithTimeout(ctx, ProcessingTimeout+time.Second)
	defer cancel()

	job := &jobResult{
		msg:        msg,
		resultChan: resultChan,
		ctx:        msgCtx,
	}

	s.pool.Submit(job)

	select {
	case err := <-resultChan:
		return err
	case <-msgCtx.Done():
		return fmt.Errorf("timeout waiting for worker to process message: %w", msgCtx.Err())
	}
}

func (s *ProcessorService) workerHandler(workerIndex int, job interface{}) {
	jobRes, ok := job.(*jobResult)
	if !ok {
		logger.Error("Invalid job type in worker", "worker", workerIndex)
		return
	}

	msg := jobRes.msg
	start := time.Now()
	var resultErr error

	select {
	case <-jobRes.ctx.Done():
		logger.Warn("Job context cancelled before processing started", "worker", workerIndex)
		return
	default:
	}

	if s.processor == nil {
		logger.Info("No processor registered", "worker", workerIndex)
		s.metrics.RecordFailure()
		resultErr = nil // ACK; an unknown type won't succeed on retry either
	} else {
		if err := s.processor.Process(jobRes.ctx, msg); err != nil {
			s.metrics.RecordFailure()
			logger.Error("Failed to process message", "worker", workerIndex, "error", err)
			resultErr = err
		} else {
			s.metrics.RecordSuccess(time.Since(start))
			resultErr = nil
		}
	}

	// The handler may have timed out and walked away; never block on it.
	select {
	case jobRes.resultChan <- resultErr:
	case <-jobRes.ctx.Done():
		logger.Warn("Context cancelled while sending result, message handler timed out", "worker", workerIndex)
	}
}
