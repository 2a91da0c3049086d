package email

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	queueSize  = 1000
	maxRetries = 3
)

// Queue sends templated emails from a fixed pool of workers.
type Queue struct {
	service *Service
	queue   chan *queuedEmail
	done    chan struct{}
	wg      sync.WaitGroup
	log     *zap.Logger

	// backoff is the wait before retry n.
	backoff func(n int) time.Duration
}

type queuedEmail struct {
	to           []string
	subject      string
	templateName string
	data         interface{}
	retries      int
}

// NewQueue creates a new email queue and starts its workers.
func NewQueue(service *Service, workers int) *Queue {
	q := &Queue{
		service: service,
		queue:   make(chan *queuedEmail, queueSize),
		done:    make(chan struct{}),
		log:     service.log,
		backoff: func(n int) time.Duration { return time.Second * time.Duration(n*2) },
	}

	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}

	return q
}

func (q *Queue) worker() {
	defer q.wg.Done()

	for {
		select {
		case email := <-q.queue:
			q.deliver(email)
		case <-q.done:
			return
		}
	}
}

func (q *Queue) deliver(email *queuedEmail) {
	for {
		err := q.service.SendWithTemplate(email.to, email.subject, email.templateName, email.data)
		if err == nil {
			return
		}
		if email.retries >= maxRetries {
			q.log.Error("email send failed, giving up",
				zap.String("subject", email.subject),
				zap.Int("retries", email.retries),
				zap.Error(err))
			return
		}
		email.retries++
		q.log.Warn("email send failed, retrying", zap.String("subject", email.subject), zap.Error(err))

		timer := time.NewTimer(q.backoff(email.retries))
		select {
		case <-timer.C:
		case <-q.done:
			timer.Stop()
			return
		}
	}
}

// Enqueue adds an email to the queue. It reports false when the queue is full
// or stopped.
func (q *Queue) Enqueue(to []string, subject, templateName string, data interface{}) bool {
	select {
	case <-q.done:
		return false
	default:
	}

	select {
	case q.queue <- &queuedEmail{to: to, subject: subject, templateName: templateName, data: data}:
		return true
	default:
		q.log.Warn("email queue full, dropping", zap.String("subject", subject))
		return false
	}
}

// Stop stops the workers and waits for them to exit. Queued emails that were
// not picked up are dropped.
func (q *Queue) Stop() {
	close(q.done)
	q.wg.Wait()
}
