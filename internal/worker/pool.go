package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"chatrelay-backend/internal/models"
)

const sinkTimeout = 5 * time.Second

// Sink is a destination for finished relay exchanges.
type Sink interface {
	Name() string
	RecordExchange(ctx context.Context, ex models.Exchange) error
}

// Pool delivers exchanges to every sink off the request path. Submit never
// blocks; when the queue is full the exchange is dropped.
type Pool struct {
	sinks       []Sink
	queue       chan models.Exchange
	workerCount int
	stopChan    chan struct{}
	stopOnce    sync.Once
	mu          sync.RWMutex // guards stopped; Submit enqueues under the read lock
	stopped     bool
	wg          sync.WaitGroup
	dropped     atomic.Int64
}

func NewPool(sinks []Sink, workerCount, queueSize int) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &Pool{
		sinks:       sinks,
		queue:       make(chan models.Exchange, queueSize),
		workerCount: workerCount,
		stopChan:    make(chan struct{}),
	}
}

func (p *Pool) Start() {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	names := make([]string, 0, len(p.sinks))
	for _, s := range p.sinks {
		names = append(names, s.Name())
	}
	log.WithField("sinks", names).Infof("started %d recorder goroutines", p.workerCount)
}

// Stop delivers whatever is still queued and waits for the workers to exit.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		close(p.stopChan)
		p.mu.Unlock()
	})
	p.wg.Wait()

	// Only reachable when Stop runs without Start.
	for {
		select {
		case ex := <-p.queue:
			n := p.dropped.Add(1)
			log.WithFields(log.Fields{
				"request_id": ex.RequestID,
				"dropped":    n,
			}).Warn("exchange recorder stopped before delivery, dropping record")
		default:
			return
		}
	}
}

// Submit queues an exchange and reports whether it was accepted.
func (p *Pool) Submit(ex models.Exchange) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		p.dropped.Add(1)
		return false
	}

	select {
	case p.queue <- ex:
		return true
	default:
		n := p.dropped.Add(1)
		log.WithFields(log.Fields{
			"request_id": ex.RequestID,
			"dropped":    n,
		}).Warn("exchange recorder queue full, dropping record")
		return false
	}
}

// Dropped returns how many exchanges were refused since start.
func (p *Pool) Dropped() int64 {
	return p.dropped.Load()
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for {
		select {
		case ex := <-p.queue:
			p.deliver(ex)
		case <-p.stopChan:
			for {
				select {
				case ex := <-p.queue:
					p.deliver(ex)
				default:
					log.Debugf("recorder worker %d shutting down", id)
					return
				}
			}
		}
	}
}

func (p *Pool) deliver(ex models.Exchange) {
	fields := log.Fields{
		"request_id": ex.RequestID,
		"route":      ex.Route,
		"outcome":    ex.Outcome,
		"status":     ex.Status,
		"latency_ms": ex.LatencyMS,
	}
	if len(p.sinks) == 0 {
		log.WithFields(fields).Debug("exchange recorded")
		return
	}

	for _, sink := range p.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		err := sink.RecordExchange(ctx, ex)
		cancel()
		if err != nil {
			log.WithFields(fields).WithField("sink", sink.Name()).WithError(err).Warn("failed to record exchange")
		}
	}
}
