// Package recipe samples step sequences for a trial.
package recipe

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
)

// maxRejections bounds redraws for a single position. With two or more
// distinct steps the odds of hitting it are negligible.
const maxRejections = 1000

// ErrVocabulary is wrapped by every vocabulary validation failure.
var ErrVocabulary = errors.New("invalid step vocabulary")

// Vocabulary is an ordered set of step names. Build one with NewVocabulary.
type Vocabulary struct {
	steps []string
	index map[string]int
}

// NewVocabulary validates steps: at least two entries, no empty or duplicate
// names, and no characters that would split a step into several engine
// commands.
func NewVocabulary(steps []string) (Vocabulary, error) {
	if len(steps) < 2 {
		return Vocabulary{}, fmt.Errorf("%w: need at least 2 steps, got %d", ErrVocabulary, len(steps))
	}
	v := Vocabulary{
		steps: make([]string, 0, len(steps)),
		index: make(map[string]int, len(steps)),
	}
	for i, s := range steps {
		name := strings.TrimSpace(s)
		if name == "" {
			return Vocabulary{}, fmt.Errorf("%w: step %d is empty", ErrVocabulary, i)
		}
		if strings.ContainsAny(name, ";\r\n") {
			return Vocabulary{}, fmt.Errorf("%w: step %q contains a command separator", ErrVocabulary, name)
		}
		if _, dup := v.index[name]; dup {
			return Vocabulary{}, fmt.Errorf("%w: duplicate step %q", ErrVocabulary, name)
		}
		v.index[name] = len(v.steps)
		v.steps = append(v.steps, name)
	}
	return v, nil
}

func (v Vocabulary) Len() int { return len(v.steps) }

// Steps returns a copy of the step names in configured order.
func (v Vocabulary) Steps() []string {
	return append([]string(nil), v.steps...)
}

func (v Vocabulary) Contains(step string) bool {
	_, ok := v.index[step]
	return ok
}

// Recipe is an ordered step sequence with no two adjacent steps equal.
type Recipe []string

// Generate draws n steps uniformly from vocab, redrawing whenever a step
// repeats its predecessor.
func Generate(rng *rand.Rand, vocab Vocabulary, n int) (Recipe, error) {
	if vocab.Len() < 2 {
		return nil, fmt.Errorf("%w: need at least 2 steps, got %d", ErrVocabulary, vocab.Len())
	}
	if n < 0 {
		return nil, fmt.Errorf("recipe length must not be negative, got %d", n)
	}
	r := make(Recipe, n)
	for i := range r {
		step := vocab.steps[rng.IntN(len(vocab.steps))]
		for tries := 0; i > 0 && step == r[i-1]; tries++ {
			if tries == maxRejections {
				return nil, fmt.Errorf("position %d: no step distinct from %q after %d draws", i, r[i-1], maxRejections)
			}
			step = vocab.steps[rng.IntN(len(vocab.steps))]
		}
		r[i] = step
	}
	return r, nil
}

// NewSource returns the random source for one trial. A trial's recipe
// depends only on the run seed and its ID, never on scheduling.
func NewSource(seed uint64, trialID int) *rand.Rand {
	return rand.New(rand.NewPCG(seed, uint64(trialID)))
}

// Validate reports the first position that breaks vocabulary membership or
// the no-repeat rule.
func (r Recipe) Validate(vocab Vocabulary) error {
	for i, step := range r {
		if !vocab.Contains(step) {
			return fmt.Errorf("step %d: %q is not in the vocabulary", i+1, step)
		}
		if i > 0 && step == r[i-1] {
			return fmt.Errorf("step %d: %q repeats the previous step", i+1, step)
		}
	}
	return nil
}

func (r Recipe) String() string {
	return strings.Join(r, "; ")
}
