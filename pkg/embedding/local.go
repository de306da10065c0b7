package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// defaultLocalDim balances collision rate against storage for templated log
// lines, which rarely carry more than a few dozen distinct tokens.
const defaultLocalDim = 256

// Local is a deterministic feature-hashing embedder. It needs no model, no
// network and no state, which makes it the default for demo runs and tests.
// Token unigrams and bigrams are hashed into a signed fixed-dimension vector
// which is then L2-normalized, so cosine distances behave like they do with
// learned embeddings: identical templates have distance 0 and templates that
// share tokens land near each other.
type Local struct {
	dim int
}

// NewLocal creates a local embedder with the given dimension (<=0 uses the
// default).
func NewLocal(dim int) *Local {
	if dim <= 0 {
		dim = defaultLocalDim
	}
	return &Local{dim: dim}
}

func (l *Local) Name() string {
	return "local::feature-hash-" + strconv.Itoa(l.dim)
}

func (l *Local) Dimension() int {
	return l.dim
}

// Embed hashes each text into a unit vector. It never fails and ignores ctx
// beyond the usual cancellation check.
func (l *Local) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = l.embedOne(t)
	}
	return out, nil
}

func (l *Local) embedOne(text string) []float32 {
	vec := make([]float32, l.dim)
	tokens := tokenize(text)

	for i, tok := range tokens {
		addFeature(vec, tok)
		if i+1 < len(tokens) {
			addFeature(vec, tok+" "+tokens[i+1])
		}
	}

	normalize(vec)
	return vec
}

// addFeature hashes a feature into the vector using the sign trick: one bit
// of the hash decides the sign so collisions cancel in expectation.
func addFeature(vec []float32, feature string) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()

	idx := int(sum % uint64(len(vec)))
	if sum&(1<<63) != 0 {
		vec[idx]--
	} else {
		vec[idx]++
	}
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}
