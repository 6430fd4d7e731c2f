package routing

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// tokenEncoding is lazily initialized once per process, on first use.
var (
	tokenEncodingOnce sync.Once
	tokenEncoding     *tiktoken.Tiktoken
	tokenEncodingErr  error
)

func getEncoding() (*tiktoken.Tiktoken, error) {
	tokenEncodingOnce.Do(func() {
		tokenEncoding, tokenEncodingErr = tiktoken.GetEncoding("cl100k_base")
	})
	return tokenEncoding, tokenEncodingErr
}

// countTokens counts text's tokens under cl100k_base, falling back to a
// character-based estimate (one token per four bytes) if the encoding fails
// to load.
func countTokens(text string) int {
	enc, err := getEncoding()
	if err != nil {
		return len(text) / 4
	}
	return len(enc.Encode(text, nil, nil))
}
