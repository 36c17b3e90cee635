package embed

import (
	"sync"
	"unicode/utf8"

	tiktoken "github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// DefaultTokenBudget bounds the text sent to the embedder. The
// text-embedding-3 models accept 8191 input tokens.
const DefaultTokenBudget = 8000

const (
	truncateEncoding       = "cl100k_base"
	heuristicCharsPerToken = 4
)

// tokenCodec is the slice of a tokenizer needed for truncation.
type tokenCodec interface {
	encode(text string) []int
	decode(tokens []int) string
}

type tiktokenCodec struct {
	enc *tiktoken.Tiktoken
}

func (c tiktokenCodec) encode(text string) []int {
	return c.enc.Encode(text, nil, nil)
}

func (c tiktokenCodec) decode(tokens []int) string {
	return c.enc.Decode(tokens)
}

func loadTiktoken() (tokenCodec, error) {
	enc, err := tiktoken.GetEncoding(truncateEncoding)
	if err != nil {
		return nil, err
	}
	return tiktokenCodec{enc: enc}, nil
}

// Truncator cuts text down to a token budget before embedding. It uses the
// cl100k_base tokenizer when available and falls back to a character-count
// heuristic when loading the encoding fails (tiktoken may need network
// access on first use).
type Truncator struct {
	budget int
	logger *zap.Logger

	once  sync.Once
	load  func() (tokenCodec, error)
	codec tokenCodec
}

// NewTruncator creates a Truncator. A budget of zero or less selects
// DefaultTokenBudget.
func NewTruncator(budget int, logger *zap.Logger) *Truncator {
	if budget <= 0 {
		budget = DefaultTokenBudget
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Truncator{
		budget: budget,
		logger: logger,
		load:   loadTiktoken,
	}
}

// Truncate returns text cut to the token budget. Text within budget is
// returned unchanged.
func (t *Truncator) Truncate(text string) string {
	t.once.Do(func() {
		codec, err := t.load()
		if err != nil {
			t.logger.Warn("token encoding unavailable, truncating by character count",
				zap.String("encoding", truncateEncoding),
				zap.Error(err))
			return
		}
		t.codec = codec
	})

	if t.codec != nil {
		tokens := t.codec.encode(text)
		if len(tokens) <= t.budget {
			return text
		}
		return t.codec.decode(tokens[:t.budget])
	}

	limit := t.budget * heuristicCharsPerToken
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	return string([]rune(text)[:limit])
}
