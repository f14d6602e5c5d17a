package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/couples-chat/internal/config"
	"github.com/suPer8Hu/couples-chat/internal/logger"
	"github.com/suPer8Hu/couples-chat/internal/memory"
	"github.com/suPer8Hu/couples-chat/internal/store/rabbitmq"
	"go.uber.org/zap"
)

var errBadMessage = errors.New("malformed memory write job")

// process decodes one delivery body and stores it. A failure is final; the
// caller dead-letters the message. Shutdown of ctx does not abort a write that
// was already handed to a worker; only the per-job timeout bounds it.
func process(ctx context.Context, store memory.Store, body []byte, timeout time.Duration) (memory.WriteJob, error) {
	var job memory.WriteJob
	if err := json.Unmarshal(body, &job); err != nil {
		return job, errBadMessage
	}
	if len(job.AgentIDs) == 0 || job.Content == "" {
		return job, errBadMessage
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	return job, memory.Execute(cctx, store, job)
}

func main() {
	cfg := config.Load()

	log, err := logger.Init(cfg.LogLevel, cfg.AppEnv, "memory-worker")
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	store := memory.NewClient(cfg.MemoryBaseURL, cfg.MemoryAPIKey)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatal("rabbit dial", zap.Error(err))
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatal("rabbit channel", zap.Error(err))
	}
	defer ch.Close()

	if err := rabbitmq.DeclareQueues(ch, cfg.RabbitQueue); err != nil {
		log.Fatal("queue declare", zap.Error(err))
	}

	//  strict concurrency control
	concurrency := cfg.WorkerConcurrency

	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatal("qos", zap.Error(err))
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatal("consume", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("worker started",
		zap.String("queue", cfg.RabbitQueue),
		zap.Int("concurrency", concurrency),
	)

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			wlog := log.With(zap.Int("worker", workerID))
			for d := range jobs {
				start := time.Now()
				job, err := process(ctx, store, d.Body, 30*time.Second)
				if err != nil {
					wlog.Warn("memory write failed, dead-lettering",
						zap.String("job_id", job.ID),
						zap.Duration("cost", time.Since(start)),
						zap.Error(err),
					)
					_ = d.Nack(false, false)
					continue
				}

				if err := d.Ack(false); err != nil {
					wlog.Error("ack failed", zap.String("job_id", job.ID), zap.Error(err))
					continue
				}
				wlog.Debug("memory write stored",
					zap.String("job_id", job.ID),
					zap.Duration("cost", time.Since(start)),
				)
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Info("worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Error("delivery channel closed")
				close(jobs)
				wg.Wait()
				return
			}
			jobs <- d
		}
	}
}
