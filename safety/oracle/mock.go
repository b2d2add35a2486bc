package oracle

import (
	"context"
	"fmt"
	"sync"
)

// Completer which returns canned responses, in order. Once the queue is drained, the last response repeats. Safe for concurrent use.
type MockCompleter struct {
	mu        sync.Mutex
	responses []string
	Err       error
	Prompts   []string
}

func NewMockCompleter(responses ...string) *MockCompleter {
	return &MockCompleter{responses: responses}
}

func (m *MockCompleter) Complete(ctx context.Context, system, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Prompts = append(m.Prompts, prompt)
	if m.Err != nil {
		return "", m.Err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(m.responses) == 0 {
		return "", nil
	}
	out := m.responses[0]
	if len(m.responses) > 1 {
		m.responses = m.responses[1:]
	}
	return out, nil
}

// Judge with scripted verdicts, for engine tests. A nil verdict (or set Err) yields ErrNoVerdict.
type MockJudge struct {
	mu            sync.Mutex
	Verdict       *Verdict
	AppealVerdict *AppealVerdict
	Summary       string
	Err           error
	Investigated  []Evidence
	Appeals       []Evidence
}

func (m *MockJudge) Investigate(ctx context.Context, ev Evidence) (*Verdict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Investigated = append(m.Investigated, ev)
	if m.Err != nil || m.Verdict == nil {
		return nil, fmt.Errorf("%w: mock", ErrNoVerdict)
	}
	v := *m.Verdict
	return &v, nil
}

func (m *MockJudge) ReviewAppeal(ctx context.Context, ev Evidence) (*AppealVerdict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Appeals = append(m.Appeals, ev)
	if m.Err != nil || m.AppealVerdict == nil {
		return nil, fmt.Errorf("%w: mock", ErrNoVerdict)
	}
	v := *m.AppealVerdict
	return &v, nil
}

func (m *MockJudge) Summarize(ctx context.Context, stats ReportStats) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil || m.Summary == "" {
		return "", fmt.Errorf("%w: mock", ErrNoVerdict)
	}
	return m.Summary, nil
}

func (m *MockJudge) InvestigatedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Investigated)
}

func (m *MockJudge) AppealCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Appeals)
}
