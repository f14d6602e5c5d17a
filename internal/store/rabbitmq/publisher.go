package rabbitmq

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/couples-chat/internal/memory"
)

// DLQName is the dead-letter queue paired with queue.
func DLQName(queue string) string {
	return queue + ".dlq"
}

// DeclareQueues declares queue and its dead-letter queue. Publisher and worker
// must agree on the arguments, so both call this.
func DeclareQueues(ch *amqp.Channel, queue string) error {
	if _, err := ch.QueueDeclare(
		DLQName(queue),
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false,
		nil,
	); err != nil {
		return err
	}

	// Main queue: dead-letter to DLQ on reject/nack(requeue=false). No retry queue.
	_, err := ch.QueueDeclare(
		queue,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": DLQName(queue),
		},
	)
	return err
}

// Publisher sends memory write jobs to a durable queue. A channel is not safe
// for concurrent publishes, hence the mutex.
type Publisher struct {
	mu    sync.Mutex
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

func NewPublisher(url, queue string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := DeclareQueues(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &Publisher{conn: conn, ch: ch, queue: queue}, nil
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

func (p *Publisher) PublishMemoryWrite(ctx context.Context, job memory.WriteJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(cctx,
		"",      // default exchange
		p.queue, // routing key = queue
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    job.ID,
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
}

// Dispatch implements memory.Dispatcher.
func (p *Publisher) Dispatch(ctx context.Context, job memory.WriteJob) error {
	return p.PublishMemoryWrite(ctx, job)
}
