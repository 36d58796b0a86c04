package tokenizer

import (
	"strings"
	"unicode/utf8"

	"github.com/23skdu/longbow-bodkin/internal/logger"
	"github.com/23skdu/longbow-bodkin/internal/metrics"
)

// Vocab is the bidirectional token table built once at model load.
type Vocab struct {
	TokenToID map[string]int
	IDToToken []string

	maxTokenLen int
}

func NewVocab(n int) *Vocab {
	return &Vocab{
		TokenToID: make(map[string]int, n),
		IDToToken: make([]string, n),
	}
}

// Add registers token text for id in both directions. Ids are the
// position indices from the vocabulary block of the model file.
func (v *Vocab) Add(id int, token string) {
	v.TokenToID[token] = id
	v.IDToToken[id] = token
	if len(token) > v.maxTokenLen {
		v.maxTokenLen = len(token)
	}
}

func (v *Vocab) Size() int { return len(v.IDToToken) }

// Token returns the text for id, or "" when out of range.
func (v *Vocab) Token(id int) string {
	if id < 0 || id >= len(v.IDToToken) {
		return ""
	}
	return v.IDToToken[id]
}

// TranscodeToken reproduces the model file's lossy token decoding: the
// raw bytes are interpreted as UTF-8 and each resulting code point is
// truncated to its low byte. Id stability depends on doing this exactly,
// so the result is NOT the raw byte string for multi-byte tokens.
func TranscodeToken(raw []byte) string {
	out := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); {
		r, size := utf8.DecodeRune(raw[i:])
		out = append(out, byte(r))
		i += size
	}
	return string(out)
}

// Encode maps text to token ids by greedy longest-prefix match over the
// vocabulary. Bytes with no matching token are dropped with a warning.
func (v *Vocab) Encode(text string) []int {
	var ids []int
	unknown := 0
	for i := 0; i < len(text); {
		max := len(text) - i
		if max > v.maxTokenLen {
			max = v.maxTokenLen
		}

		matched := 0
		for l := max; l > 0; l-- {
			if id, ok := v.TokenToID[text[i:i+l]]; ok {
				ids = append(ids, id)
				matched = l
				break
			}
		}
		if matched == 0 {
			logger.Log.Warn("no vocab entry for input byte", "byte", text[i], "offset", i)
			unknown++
			matched = 1
		}
		i += matched
	}
	metrics.RecordUnknownBytes(unknown)
	return ids
}

// Decode concatenates the text of each id, skipping out-of-range ids.
func (v *Vocab) Decode(ids []int) string {
	var sb strings.Builder
	for _, id := range ids {
		sb.WriteString(v.Token(id))
	}
	return sb.String()
}
