// Package dice parses and rolls dice expressions like "2d6+1d8+5".
package dice

import (
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
)

// ErrEmptyExpression indicates a roll was requested with no expression.
var ErrEmptyExpression = errors.New("dice expression is empty")

// ErrInvalidExpression indicates the expression could not be parsed.
var ErrInvalidExpression = errors.New("invalid dice expression")

// ErrDiceLimit indicates the expression asks for an unreasonable roll.
var ErrDiceLimit = errors.New("dice expression exceeds limits")

const (
	maxDicePerExpression = 100
	maxSides             = 1000
)

// Die describes a die to roll and how many times to roll it.
type Die struct {
	Sides int `json:"sides"`
	Count int `json:"count"`
}

// Spec is a parsed dice expression: a list of dice plus a flat modifier.
type Spec struct {
	Dice     []Die `json:"dice"`
	Modifier int   `json:"modifier"`
}

// Result captures the raw die values and the modified total of one roll.
type Result struct {
	Results []int `json:"results"`
	Total   int   `json:"total"`
}

// Parse turns an expression like "1d20+5", "2d6+1d8-1" or "d4" into a Spec.
// Terms are separated by + or -; each term is either NdS or a flat integer.
func Parse(expr string) (Spec, error) {
	cleaned := strings.ReplaceAll(strings.ToLower(expr), " ", "")
	if cleaned == "" {
		return Spec{}, ErrEmptyExpression
	}

	var spec Spec
	totalDice := 0
	sign := 1
	for len(cleaned) > 0 {
		end := strings.IndexAny(cleaned[1:], "+-")
		var term string
		if end == -1 {
			term = cleaned
			cleaned = ""
		} else {
			term = cleaned[:end+1]
			cleaned = cleaned[end+1:]
		}

		switch term[0] {
		case '+':
			term = term[1:]
		case '-':
			sign = -1
			term = term[1:]
		}
		if term == "" {
			return Spec{}, fmt.Errorf("%w: %q", ErrInvalidExpression, expr)
		}

		if i := strings.IndexByte(term, 'd'); i >= 0 {
			if sign < 0 {
				// Subtracting dice is not supported; only flat modifiers
				// may be negative.
				return Spec{}, fmt.Errorf("%w: negative dice term in %q", ErrInvalidExpression, expr)
			}
			count := 1
			if i > 0 {
				n, err := strconv.Atoi(term[:i])
				if err != nil {
					return Spec{}, fmt.Errorf("%w: %q", ErrInvalidExpression, expr)
				}
				count = n
			}
			sides, err := strconv.Atoi(term[i+1:])
			if err != nil {
				return Spec{}, fmt.Errorf("%w: %q", ErrInvalidExpression, expr)
			}
			if count <= 0 || sides <= 1 || sides > maxSides {
				return Spec{}, fmt.Errorf("%w: %q", ErrDiceLimit, expr)
			}
			totalDice += count
			if totalDice > maxDicePerExpression {
				return Spec{}, fmt.Errorf("%w: %q", ErrDiceLimit, expr)
			}
			spec.Dice = append(spec.Dice, Die{Sides: sides, Count: count})
		} else {
			n, err := strconv.Atoi(term)
			if err != nil {
				return Spec{}, fmt.Errorf("%w: %q", ErrInvalidExpression, expr)
			}
			spec.Modifier += sign * n
		}
		sign = 1
	}

	if len(spec.Dice) == 0 {
		return Spec{}, fmt.Errorf("%w: no dice in %q", ErrInvalidExpression, expr)
	}
	return spec, nil
}

// NumDice returns how many individual die values the spec produces.
func (s Spec) NumDice() int {
	n := 0
	for _, d := range s.Dice {
		n += d.Count
	}
	return n
}

// Validate checks raw die values reported by a client against the spec:
// the count must match and every value must be within its die's range.
func (s Spec) Validate(results []int) error {
	if len(results) != s.NumDice() {
		return fmt.Errorf("%w: got %d results, want %d", ErrInvalidExpression, len(results), s.NumDice())
	}
	i := 0
	for _, d := range s.Dice {
		for j := 0; j < d.Count; j++ {
			if results[i] < 1 || results[i] > d.Sides {
				return fmt.Errorf("%w: result %d out of range for d%d", ErrInvalidExpression, results[i], d.Sides)
			}
			i++
		}
	}
	return nil
}

// Total sums raw die values and applies the modifier. Results must have
// passed Validate.
func (s Spec) Total(results []int) int {
	total := s.Modifier
	for _, v := range results {
		total += v
	}
	return total
}

// Roll rolls the spec with the provided source. Die values appear in spec
// order, and Total includes the modifier.
func (s Spec) Roll(rng *rand.Rand) Result {
	out := Result{Total: s.Modifier}
	for _, d := range s.Dice {
		for i := 0; i < d.Count; i++ {
			v := rng.Intn(d.Sides) + 1
			out.Results = append(out.Results, v)
			out.Total += v
		}
	}
	return out
}
