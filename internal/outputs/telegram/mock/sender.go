package mock

import (
	"context"
	"sync"
)

// Call records one delivery attempt.
type Call struct {
	Method  string
	Text    string
	Photos  []string
	Caption string
}

// Sender records calls and returns queued errors in order, one per call.
type Sender struct {
	mu    sync.Mutex
	Calls []Call
	Errs  []error
}

func (s *Sender) SendMessage(ctx context.Context, text string) error {
	_ = ctx
	return s.record(Call{Method: "sendMessage", Text: text})
}

func (s *Sender) SendPhoto(ctx context.Context, photoURL, caption string) error {
	_ = ctx
	return s.record(Call{Method: "sendPhoto", Photos: []string{photoURL}, Caption: caption})
}

func (s *Sender) SendMediaGroup(ctx context.Context, photoURLs []string, caption string) error {
	_ = ctx
	photos := append([]string(nil), photoURLs...)
	return s.record(Call{Method: "sendMediaGroup", Photos: photos, Caption: caption})
}

func (s *Sender) record(call Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, call)
	if len(s.Errs) == 0 {
		return nil
	}
	err := s.Errs[0]
	s.Errs = s.Errs[1:]
	return err
}

// Methods returns the method names called so far.
func (s *Sender) Methods() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.Calls))
	for _, c := range s.Calls {
		out = append(out, c.Method)
	}
	return out
}
