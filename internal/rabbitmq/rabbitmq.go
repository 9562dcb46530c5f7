package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cutekitek/rankode-judge/internal/judge"
	"github.com/cutekitek/rankode-judge/internal/mappers"
	"github.com/cutekitek/rankode-judge/internal/repository/models"
	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	ReqQueue   = "judge-req"
	RespQueue  = "judge-resp"
	RetryQueue = "judge-retry"
	DeadQueue  = "judge-dead"

	retryHeader = "x-retry"
	consumerTag = "rankode-judge"
)

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type Judge interface {
	Run(ctx context.Context, submissionId int64) (*judge.Report, error)
}

type RabbitMqHandlerConfig struct {
	Login          string
	Password       string
	Host           string
	Port           int
	WorkersCount   int
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

type RabbitMQHandler struct {
	cfg          RabbitMqHandlerConfig
	judge        Judge
	conn         *amqp.Connection
	consumerChan *amqp.Channel
	producerChan publisher
	producerMu   sync.Mutex
	tasksChan    chan amqp.Delivery
	wg           *sync.WaitGroup
	listeners    *sync.WaitGroup
	closed       atomic.Bool
	ctx          context.Context
	cancel       context.CancelFunc
}

func NewRabbitMQHandler(cfg RabbitMqHandlerConfig, j Judge) *RabbitMQHandler {
	if cfg.WorkersCount <= 0 {
		cfg.WorkersCount = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RabbitMQHandler{
		cfg:       cfg,
		judge:     j,
		tasksChan: make(chan amqp.Delivery),
		wg:        &sync.WaitGroup{},
		listeners: &sync.WaitGroup{},
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (r *RabbitMQHandler) Start() error {
	if err := r.connectAll(); err != nil {
		return err
	}
	for i := 0; i < r.cfg.WorkersCount; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	return nil
}

func (r *RabbitMQHandler) connectAll() error {
	if err := r.connect(); err != nil {
		return err
	}
	if err := r.startProducer(); err != nil {
		return errors.Wrap(err, "failed to start producer")
	}
	if err := r.startConsumer(); err != nil {
		return errors.Wrap(err, "failed to start consumer")
	}
	return nil
}

// DeclareQueues creates every queue the judge uses. Failed deliveries wait
// in the retry queue until their expiration, then return to the request queue.
func DeclareQueues(channel *amqp.Channel) error {
	for _, name := range []string{ReqQueue, RespQueue, DeadQueue} {
		if _, err := channel.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return errors.Wrapf(err, "failed to declare %s", name)
		}
	}
	_, err := channel.QueueDeclare(RetryQueue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": ReqQueue,
	})
	return errors.Wrapf(err, "failed to declare %s", RetryQueue)
}

func (r *RabbitMQHandler) startConsumer() error {
	channel, err := r.conn.Channel()
	if err != nil {
		return err
	}
	if err := channel.Qos(r.cfg.WorkersCount, 0, false); err != nil {
		return err
	}
	del, err := channel.Consume(ReqQueue, consumerTag, false, false, false, false, nil)
	if err != nil {
		return err
	}

	r.consumerChan = channel
	r.listeners.Add(1)
	go r.listener(del)
	return nil
}

func (r *RabbitMQHandler) startProducer() error {
	channel, err := r.conn.Channel()
	if err != nil {
		return err
	}
	if err := DeclareQueues(channel); err != nil {
		return err
	}
	r.producerMu.Lock()
	r.producerChan = channel
	r.producerMu.Unlock()
	return nil
}

func (r *RabbitMQHandler) connect() error {
	url := fmt.Sprintf("amqp://%s:%s@%s:%d", r.cfg.Login, r.cfg.Password, r.cfg.Host, r.cfg.Port)
	conn, err := amqp.Dial(url)
	if err != nil {
		return err
	}
	r.conn = conn
	errChan := make(chan *amqp.Error, 1)
	conn.NotifyClose(errChan)
	go func() {
		amqpErr := <-errChan
		if r.closed.Load() {
			return
		}
		slog.Error("rabbitmq connection lost", "error", amqpErr)

		for {
			time.Sleep(time.Second * 15)
			if r.closed.Load() {
				return
			}
			err := r.connectAll()
			if err == nil {
				slog.Info("rabbitmq reconnected")
				return
			}
			slog.Error("failed to reconnect to rabbitmq", "error", err)
		}
	}()
	return nil
}

func (r *RabbitMQHandler) listener(taskChan <-chan amqp.Delivery) {
	defer r.listeners.Done()
	for data := range taskChan {
		r.tasksChan <- data
	}
}

func (r *RabbitMQHandler) worker() {
	defer r.wg.Done()

	for task := range r.tasksChan {
		r.process(task)
	}
}

type action int

const (
	actionAck action = iota
	actionRetry
	actionDead
)

// decide picks what happens to a delivery after a judging attempt.
func decide(err error, retries, maxRetries int) action {
	switch {
	case err == nil, errors.Is(err, judge.ErrSubmissionNotFound):
		return actionAck
	case retries < maxRetries:
		return actionRetry
	default:
		return actionDead
	}
}

func (r *RabbitMQHandler) process(d amqp.Delivery) {
	var req models.JudgeRequest
	if err := json.Unmarshal(d.Body, &req); err != nil || req.SubmissionId <= 0 {
		slog.Error("invalid task message", "message", string(d.Body))
		r.publish(DeadQueue, d.Body, d.Headers, "")
		r.ack(d)
		return
	}

	retries := retryCount(d.Headers)
	report, err := r.judge.Run(r.ctx, req.SubmissionId)
	switch decide(err, retries, r.cfg.MaxRetries) {
	case actionAck:
		if err != nil {
			slog.Warn("submission not found, skipping", "submission_id", req.SubmissionId)
		} else {
			r.send(mappers.ReportToJudgeResponse(report))
		}
	case actionRetry:
		delay := ComputeBackoff(retries, r.cfg.RetryBaseDelay, r.cfg.RetryMaxDelay)
		slog.Warn("judging failed, retrying", "submission_id", req.SubmissionId, "retry", retries+1, "delay", delay, "error", err)
		headers := amqp.Table{retryHeader: int32(retries + 1)}
		if !r.publish(RetryQueue, d.Body, headers, strconv.FormatInt(delay.Milliseconds(), 10)) {
			r.nack(d)
			return
		}
	case actionDead:
		slog.Error("judging failed, giving up", "submission_id", req.SubmissionId, "retries", retries, "error", err)
		headers := amqp.Table{retryHeader: int32(retries), "x-error": err.Error()}
		if !r.publish(DeadQueue, d.Body, headers, "") {
			r.nack(d)
			return
		}
	}
	r.ack(d)
}

func (r *RabbitMQHandler) ack(d amqp.Delivery) {
	if err := d.Ack(false); err != nil {
		slog.Error("failed to ack delivery", "error", err)
	}
}

func (r *RabbitMQHandler) nack(d amqp.Delivery) {
	if err := d.Nack(false, true); err != nil {
		slog.Error("failed to nack delivery", "error", err)
	}
}

func retryCount(headers amqp.Table) int {
	switch v := headers[retryHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// ComputeBackoff doubles base per retry and caps the result at max.
func ComputeBackoff(retryCount int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 0; i < retryCount; i++ {
		if max > 0 && delay > max/2 {
			delay = max
			break
		}
		delay *= 2
	}
	if max > 0 && delay > max {
		return max
	}
	return delay
}

func (r *RabbitMQHandler) send(data *models.JudgeResponse) {
	body, err := json.Marshal(data)
	if err != nil {
		slog.Error("failed to marshal response", "error", err)
		return
	}
	r.publish(RespQueue, body, nil, "")
}

func (r *RabbitMQHandler) publish(queue string, body []byte, headers amqp.Table, expiration string) bool {
	r.producerMu.Lock()
	defer r.producerMu.Unlock()
	err := r.producerChan.PublishWithContext(r.ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Headers:      headers,
		Expiration:   expiration,
		Body:         body,
	})
	if err != nil {
		slog.Error("failed to publish message", "queue", queue, "error", err)
		return false
	}
	return true
}

// Close stops consuming and waits for running submissions to finish.
func (r *RabbitMQHandler) Close() {
	if r.closed.Swap(true) {
		return
	}
	if r.consumerChan != nil {
		if err := r.consumerChan.Cancel(consumerTag, false); err != nil {
			slog.Error("failed to cancel consumer", "error", err)
			r.consumerChan.Close()
		}
	}
	r.listeners.Wait()
	close(r.tasksChan)
	r.wg.Wait()
	r.cancel()
	if r.consumerChan != nil {
		r.consumerChan.Close()
	}
	if r.producerChan != nil {
		r.producerChan.Close()
	}
	if r.conn != nil {
		r.conn.Close()
	}
}
