package usecase

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"datascout/internal/domain"
)

// messageOverheadTokens approximates the per-message framing cost of the
// chat format.
const messageOverheadTokens = 4

// TiktokenCounter estimates token counts with a BPE encoding. Estimates are
// used for usage display before server-reported usage arrives; they are not
// billing-accurate.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTokenCounter creates a counter using the given encoding name
// (default "cl100k_base").
func NewTokenCounter(encoding string) (*TiktokenCounter, error) {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load encoding %q: %w", encoding, err)
	}
	return &TiktokenCounter{enc: enc}, nil
}

// Count returns the token count of a text fragment.
func (c *TiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// CountMessages estimates tokens across a message history, including tool
// inputs and results.
func (c *TiktokenCounter) CountMessages(msgs []domain.Message) int {
	total := 0
	for _, m := range msgs {
		total += messageOverheadTokens
		for _, b := range m.Content {
			switch b.Type {
			case domain.BlockText:
				total += c.Count(b.Text)
			case domain.BlockToolUse:
				total += c.Count(b.Name) + c.Count(string(b.Input))
			case domain.BlockToolResult:
				total += c.CountMessages([]domain.Message{{Content: b.Content}})
			}
		}
	}
	return total
}

var _ domain.TokenCounter = (*TiktokenCounter)(nil)
