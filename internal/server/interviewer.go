package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/danshapiro/attractorctl/internal/attractor/engine"
)

// WebInterviewer satisfies engine.Interviewer by parking questions until an
// HTTP client answers them. The engine goroutine blocks on Ask() until an
// answer is posted via Answer(), the question's own timeout expires, or the
// run's context is cancelled.
//
// Multiple questions can be pending concurrently if the HTTP API is ever
// driven by a graph with more than one human gate in flight.
type WebInterviewer struct {
	mu       sync.Mutex
	pending  map[string]*pendingQuestion // keyed by question ID
	timeout  time.Duration
	cancelCh chan struct{}
}

type pendingQuestion struct {
	ID       string
	Question engine.Question
	AskedAt  time.Time
	answerCh chan engine.Answer
}

// NewWebInterviewer creates a new WebInterviewer with the given default
// timeout, used when a Question doesn't set its own. If timeout <= 0,
// defaults to 30 minutes.
func NewWebInterviewer(timeout time.Duration) *WebInterviewer {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &WebInterviewer{
		timeout:  timeout,
		cancelCh: make(chan struct{}),
		pending:  make(map[string]*pendingQuestion),
	}
}

// Ask implements engine.Interviewer. It blocks until an answer is posted,
// the question times out, or ctx/Cancel ends the interview early. A timeout
// returns the default answer if set, else an error; cancellation returns the
// default answer, else the first option, else an empty Answer.
func (wi *WebInterviewer) Ask(ctx context.Context, q engine.Question) (engine.Answer, error) {
	qid := uuid.NewString()
	wi.mu.Lock()
	ch := make(chan engine.Answer, 1)
	pq := &pendingQuestion{
		ID:       qid,
		Question: q,
		AskedAt:  time.Now().UTC(),
		answerCh: ch,
	}
	wi.pending[qid] = pq
	wi.mu.Unlock()

	defer func() {
		wi.mu.Lock()
		delete(wi.pending, qid)
		wi.mu.Unlock()
	}()

	timeout := wi.timeout
	if q.Timeout > 0 {
		timeout = q.Timeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ans := <-ch:
		return ans, nil
	case <-timer.C:
		if q.DefaultAnswer != nil {
			return *q.DefaultAnswer, nil
		}
		return engine.Answer{}, fmt.Errorf("question %s timed out after %s", qid, timeout)
	case <-wi.cancelCh:
	case <-ctx.Done():
	}
	// Cancelled: the default answer if set, else the first option; a
	// question with no options gets an empty Answer.
	if q.DefaultAnswer != nil {
		return *q.DefaultAnswer, nil
	}
	if len(q.Options) > 0 {
		return engine.Answer{Value: q.Options[0].Key, SelectedOption: &q.Options[0]}, nil
	}
	return engine.Answer{}, nil
}

// Pending returns all currently pending questions. Returns an empty slice
// if none.
func (wi *WebInterviewer) Pending() []PendingQuestion {
	wi.mu.Lock()
	defer wi.mu.Unlock()
	out := make([]PendingQuestion, 0, len(wi.pending))
	for _, pq := range wi.pending {
		opts := make([]QuestionOption, len(pq.Question.Options))
		for i, o := range pq.Question.Options {
			opts[i] = QuestionOption{Key: o.Key, Label: o.Label, To: o.To}
		}
		out = append(out, PendingQuestion{
			QuestionID: pq.ID,
			Type:       string(pq.Question.Type),
			Text:       pq.Question.Text,
			Stage:      pq.Question.Stage,
			Options:    opts,
			AskedAt:    pq.AskedAt,
		})
	}
	return out
}

// Cancel unblocks all in-flight Ask() calls, which return their cancellation
// answer (see Ask). Safe to call multiple times.
func (wi *WebInterviewer) Cancel() {
	wi.mu.Lock()
	defer wi.mu.Unlock()
	select {
	case <-wi.cancelCh:
		// already closed
	default:
		close(wi.cancelCh)
	}
}

// Answer delivers an answer to a pending question by ID, resolving
// ans.Value against the question's options to populate SelectedOption.
// Returns false if qid doesn't match any pending question or is already
// answered.
func (wi *WebInterviewer) Answer(qid string, ans engine.Answer) bool {
	wi.mu.Lock()
	defer wi.mu.Unlock()
	pq, ok := wi.pending[qid]
	if !ok {
		return false
	}
	if ans.SelectedOption == nil && ans.Value != "" {
		for i, o := range pq.Question.Options {
			if o.Key == ans.Value {
				ans.SelectedOption = &pq.Question.Options[i]
				break
			}
		}
	}
	select {
	case pq.answerCh <- ans:
		delete(wi.pending, qid) // prevent duplicate answers
		return true
	default:
		return false // already answered
	}
}
