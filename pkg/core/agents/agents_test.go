package agents

import (
	"context"
	"sync"
	"time"

	"github.com/attune-ai/attune/pkg/core/providers/gemini"
	"github.com/attune-ai/attune/pkg/store"
)

// fakeLLM replays scripted responses. The last response repeats once the
// script is exhausted, which lets loop tests run past the script length.
type fakeLLM struct {
	mu        sync.Mutex
	responses []*gemini.GenerateResponse
	err       error
	requests  []*gemini.GenerateRequest
}

func (f *fakeLLM) GenerateContent(_ context.Context, _ string, req *gemini.GenerateRequest) (*gemini.GenerateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.responses) == 0 {
		return textResponse(""), nil
	}
	resp := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return resp, nil
}

func (f *fakeLLM) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func textResponse(text string) *gemini.GenerateResponse {
	return &gemini.GenerateResponse{
		Candidates: []gemini.Candidate{{
			Content: gemini.Content{Role: "model", Parts: []gemini.Part{{Text: text}}},
		}},
	}
}

func callResponse(calls ...gemini.FunctionCall) *gemini.GenerateResponse {
	parts := make([]gemini.Part, 0, len(calls))
	for i := range calls {
		parts = append(parts, gemini.Part{FunctionCall: &calls[i]})
	}
	return &gemini.GenerateResponse{
		Candidates: []gemini.Candidate{{
			Content: gemini.Content{Role: "model", Parts: parts},
		}},
	}
}

type fakeProfiles struct {
	interests string
	err       error
	gotName   string
}

func (f *fakeProfiles) UserInterests(_ context.Context, userName string) (string, error) {
	f.gotName = userName
	if f.err != nil {
		return "", f.err
	}
	return f.interests, nil
}

type fakeEvents struct {
	events   []store.SocialEvent
	err      error
	gotTags  []string
	gotAfter time.Time
}

func (f *fakeEvents) UpcomingEvents(_ context.Context, interests []string, after time.Time) ([]store.SocialEvent, error) {
	f.gotTags = interests
	f.gotAfter = after
	if f.err != nil {
		return nil, f.err
	}
	return f.events, nil
}
