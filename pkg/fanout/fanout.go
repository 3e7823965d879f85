package fanout

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/oakmere/chatvault/pkg/chat"
)

// Generator produces one candidate response. Deltas stream through onDelta
// as they arrive; the returned string is the authoritative final text.
type Generator interface {
	Model() string
	Generate(ctx context.Context, history []*chat.Message, onDelta func(string)) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc struct {
	Name string
	Fn   func(ctx context.Context, history []*chat.Message, onDelta func(string)) (string, error)
}

func (g GeneratorFunc) Model() string { return g.Name }

func (g GeneratorFunc) Generate(ctx context.Context, history []*chat.Message, onDelta func(string)) (string, error) {
	return g.Fn(ctx, history, onDelta)
}

// Operation is one independent asynchronous unit of a fan-out, keyed by
// the candidate it writes to.
type Operation struct {
	Key string
	Run func(ctx context.Context) error
}

// Result is one operation's terminal state.
type Result struct {
	Key string
	Err error
}

// Summary aggregates all terminal states of one fan-out.
type Summary struct {
	Results   []Result
	Completed int
	Failed    int
}

// Launch starts every operation concurrently and returns a channel that
// receives the aggregate summary exactly once, after all operations reach
// a terminal state, regardless of arrival order or success/failure mix.
// The last terminal callback to decrement the shared counter is the one
// and only sender. One operation's failure never prevents the others from
// completing or suppresses the aggregate. A panic inside an operation
// counts as that operation's failure.
func Launch(ctx context.Context, ops []Operation, onTerminal func(Result)) <-chan Summary {
	done := make(chan Summary, 1)
	if len(ops) == 0 {
		done <- Summary{}
		return done
	}

	var (
		remaining atomic.Int32
		mu        sync.Mutex
		results   []Result
	)
	remaining.Store(int32(len(ops)))

	for _, op := range ops {
		op := op
		go func() {
			err := runProtected(ctx, op)
			res := Result{Key: op.Key, Err: err}
			if onTerminal != nil {
				onTerminal(res)
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			if remaining.Add(-1) == 0 {
				mu.Lock()
				summary := Summary{Results: append([]Result(nil), results...)}
				mu.Unlock()
				for _, r := range summary.Results {
					if r.Err != nil {
						summary.Failed++
					} else {
						summary.Completed++
					}
				}
				done <- summary
			}
		}()
	}
	return done
}

func runProtected(ctx context.Context, op Operation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("key", op.Key).Msg("generation operation panicked")
			err = errors.Errorf("fanout: operation %s panicked: %v", op.Key, r)
		}
	}()
	return op.Run(ctx)
}
