// Package rendezvous delivers exactly one feedback result from whichever
// producer gets there first to the single waiting caller.
package rendezvous

import (
	"context"
	"sync"

	"github.com/ChuDiRen/interactive-feedback-mcp/errors"
	"github.com/ChuDiRen/interactive-feedback-mcp/session"
)

type Rendezvous struct {
	once   sync.Once
	done   chan struct{}
	result session.FeedbackResult
	err    error
}

func New() *Rendezvous {
	return &Rendezvous{done: make(chan struct{})}
}

// Resolve stores result if nothing has been delivered yet. Later calls leave
// the stored value untouched and return errors.ErrSessionClosed.
func (r *Rendezvous) Resolve(result session.FeedbackResult) error {
	if !r.settle(result, nil) {
		return errors.ErrSessionClosed
	}
	return nil
}

// Fail settles the rendezvous with err. It reports whether this call won.
func (r *Rendezvous) Fail(err error) bool {
	if err == nil {
		err = errors.ErrSessionClosed
	}
	return r.settle(session.FeedbackResult{}, err)
}

func (r *Rendezvous) settle(result session.FeedbackResult, err error) bool {
	won := false
	r.once.Do(func() {
		r.result = result
		r.err = err
		won = true
		close(r.done)
	})
	return won
}

// Wait blocks until the rendezvous settles or ctx is done. Cancelling ctx
// does not settle the rendezvous.
func (r *Rendezvous) Wait(ctx context.Context) (session.FeedbackResult, error) {
	select {
	case <-r.done:
		return r.result, r.err
	case <-ctx.Done():
		return session.FeedbackResult{}, ctx.Err()
	}
}

func (r *Rendezvous) Done() <-chan struct{} { return r.done }

func (r *Rendezvous) Resolved() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}
