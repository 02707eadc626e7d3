package job

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrWaiterRequired indicates a notifier cannot be constructed without a waiter.
var ErrWaiterRequired = errors.New("notifier waiter is required")

// Waiter blocks until the queue publishes a job id.
type Waiter interface {
	WaitForNotification(ctx context.Context) (string, error)
}

// Notifier delivers ids of jobs that became claimable. Delivery is at most once per
// notification and lossy under load; consumers must also poll.
type Notifier interface {
	Start(ctx context.Context)
	Notifications() <-chan string
	Stop()
}

// NotifierOptions configure the behaviour of the default notifier implementation.
type NotifierOptions struct {
	Waiter Waiter
	// WaitWindow bounds one LISTEN round so a dead connection is noticed.
	WaitWindow time.Duration
	// Backoff is the pause after a failed wait.
	Backoff time.Duration
	// Buffer is how many unclaimed ids may queue before new ones are dropped.
	Buffer int
}

// DefaultNotifier runs a single listen loop and fans ids out to competing consumers through
// one buffered channel, so each id reaches exactly one worker.
type DefaultNotifier struct {
	waiter     Waiter
	waitWindow time.Duration
	backoff    time.Duration
	ids        chan string

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	dropped int64
}

// NewNotifier constructs the default notifier implementation.
func NewNotifier(opts NotifierOptions) (*DefaultNotifier, error) {
	if opts.Waiter == nil {
		return nil, ErrWaiterRequired
	}
	if opts.WaitWindow <= 0 {
		opts.WaitWindow = time.Minute
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 250 * time.Millisecond
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}
	return &DefaultNotifier{
		waiter:     opts.Waiter,
		waitWindow: opts.WaitWindow,
		backoff:    opts.Backoff,
		ids:        make(chan string, opts.Buffer),
	}, nil
}

// Start launches the listen loop. Calling Start on a running notifier is a no-op.
func (n *DefaultNotifier) Start(ctx context.Context) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	n.cancel = cancel
	n.done = make(chan struct{})
	go n.listenLoop(ctx, n.done)
}

// Notifications returns the channel that receives job ids.
func (n *DefaultNotifier) Notifications() <-chan string {
	return n.ids
}

// Stop ends the listen loop and waits for it to exit. The channel stays open.
func (n *DefaultNotifier) Stop() {
	n.mu.Lock()
	cancel, done := n.cancel, n.done
	n.cancel, n.done = nil, nil
	n.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Dropped reports how many ids were discarded because the buffer was full.
func (n *DefaultNotifier) Dropped() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dropped
}

func (n *DefaultNotifier) listenLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	for ctx.Err() == nil {
		waitCtx, cancel := context.WithTimeout(ctx, n.waitWindow)
		id, err := n.waiter.WaitForNotification(waitCtx)
		cancel()

		switch {
		case err == nil && id != "":
			n.publish(id)
		case err == nil, errors.Is(err, context.DeadlineExceeded):
		default:
			if !sleep(ctx, n.backoff) {
				return
			}
		}
	}
}

func (n *DefaultNotifier) publish(id string) {
	select {
	case n.ids <- id:
	default:
		n.mu.Lock()
		n.dropped++
		n.mu.Unlock()
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

var _ Notifier = (*DefaultNotifier)(nil)
