package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danshapiro/attractorctl/internal/attractor/engine"
)

// cliInterviewer prompts the operator on stdin/stderr for each human gate
// the run reaches. Ask blocks until a line is read, the question's timeout
// elapses, or ctx is cancelled; either of the latter two falls back to
// q.DefaultAnswer (or the first option, if the question offers one).
type cliInterviewer struct {
	reader *bufio.Reader
}

func newCLIInterviewer() *cliInterviewer {
	return &cliInterviewer{reader: bufio.NewReader(os.Stdin)}
}

func (ci *cliInterviewer) Ask(ctx context.Context, q engine.Question) (engine.Answer, error) {
	fmt.Fprintf(os.Stderr, "\n--- human gate: %s ---\n%s\n", q.Stage, q.Text)
	for _, opt := range q.Options {
		fmt.Fprintf(os.Stderr, "  [%s] %s\n", opt.Key, opt.Label)
	}
	fmt.Fprint(os.Stderr, "> ")

	lineCh := make(chan string, 1)
	go func() {
		line, _ := ci.reader.ReadString('\n')
		lineCh <- strings.TrimSpace(line)
	}()

	var timeoutCh <-chan time.Time
	if q.Timeout > 0 {
		timer := time.NewTimer(q.Timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case line := <-lineCh:
		return resolveAnswer(q, line), nil
	case <-timeoutCh:
		return defaultAnswer(q), nil
	case <-ctx.Done():
		return defaultAnswer(q), nil
	}
}

// approveAllInterviewer answers every gate with its first listed option
// (or a literal "yes" when the question offers no options), for
// --approve-all unattended runs.
type approveAllInterviewer struct{}

func (approveAllInterviewer) Ask(ctx context.Context, q engine.Question) (engine.Answer, error) {
	if len(q.Options) > 0 {
		opt := q.Options[0]
		return engine.Answer{Value: opt.Key, SelectedOption: &opt, Text: opt.Label}, nil
	}
	return engine.Answer{Value: "yes", Text: "yes"}, nil
}

func resolveAnswer(q engine.Question, raw string) engine.Answer {
	for _, opt := range q.Options {
		if strings.EqualFold(opt.Key, raw) || strings.EqualFold(opt.Label, raw) {
			o := opt
			return engine.Answer{Value: o.Key, SelectedOption: &o, Text: raw}
		}
	}
	if raw == "" {
		return defaultAnswer(q)
	}
	return engine.Answer{Value: raw, Text: raw}
}

func defaultAnswer(q engine.Question) engine.Answer {
	if q.DefaultAnswer != nil {
		return *q.DefaultAnswer
	}
	if len(q.Options) > 0 {
		opt := q.Options[0]
		return engine.Answer{Value: opt.Key, SelectedOption: &opt}
	}
	return engine.Answer{}
}
