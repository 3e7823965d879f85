package chat

import (
	"sync"

	"github.com/pkg/errors"
	tiktoken "github.com/weaviate/tiktoken-go"
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
	encodingErr  error
)

// perMessageOverhead approximates the role/framing tokens a backend adds
// around each message.
const perMessageOverhead = 4

// EstimateTokens counts cl100k_base tokens for a message sequence, as a
// sizing hint for the request builder. The count is an estimate, not a
// billing-accurate figure.
func EstimateTokens(messages []*Message) (int, error) {
	encodingOnce.Do(func() {
		encoding, encodingErr = tiktoken.GetEncoding("cl100k_base")
	})
	if encodingErr != nil {
		return 0, errors.Wrap(encodingErr, "chat: init token encoding")
	}
	total := 0
	for _, m := range messages {
		if m == nil {
			continue
		}
		total += perMessageOverhead
		total += len(encoding.Encode(m.Content, nil, nil))
	}
	return total, nil
}
