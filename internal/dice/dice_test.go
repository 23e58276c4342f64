package dice

import (
	"errors"
	"math/rand"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		expr     string
		dice     []Die
		modifier int
	}{
		{"1d20", []Die{{Sides: 20, Count: 1}}, 0},
		{"1d20+5", []Die{{Sides: 20, Count: 1}}, 5},
		{"2d6+1d8-1", []Die{{Sides: 6, Count: 2}, {Sides: 8, Count: 1}}, -1},
		{"d4", []Die{{Sides: 4, Count: 1}}, 0},
		{"3D6 + 2", []Die{{Sides: 6, Count: 3}}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			spec, err := Parse(tt.expr)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.expr, err)
			}
			if len(spec.Dice) != len(tt.dice) {
				t.Fatalf("Parse(%q) dice = %v, want %v", tt.expr, spec.Dice, tt.dice)
			}
			for i, d := range tt.dice {
				if spec.Dice[i] != d {
					t.Errorf("Parse(%q) dice[%d] = %v, want %v", tt.expr, i, spec.Dice[i], d)
				}
			}
			if spec.Modifier != tt.modifier {
				t.Errorf("Parse(%q) modifier = %d, want %d", tt.expr, spec.Modifier, tt.modifier)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		expr string
		want error
	}{
		{"", ErrEmptyExpression},
		{"5", ErrInvalidExpression},
		{"1d20+", ErrInvalidExpression},
		{"xdy", ErrInvalidExpression},
		{"1d1", ErrDiceLimit},
		{"0d6", ErrDiceLimit},
		{"200d6", ErrDiceLimit},
		{"1d20-1d4", ErrInvalidExpression},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			if _, err := Parse(tt.expr); !errors.Is(err, tt.want) {
				t.Errorf("Parse(%q) error = %v, want %v", tt.expr, err, tt.want)
			}
		})
	}
}

func TestValidateAndTotal(t *testing.T) {
	spec, err := Parse("2d6+3")
	if err != nil {
		t.Fatal(err)
	}
	if err := spec.Validate([]int{4, 5}); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got := spec.Total([]int{4, 5}); got != 12 {
		t.Errorf("Total = %d, want 12", got)
	}
	if err := spec.Validate([]int{4}); err == nil {
		t.Error("Validate accepted wrong result count")
	}
	if err := spec.Validate([]int{4, 7}); err == nil {
		t.Error("Validate accepted out-of-range die value")
	}
}

func TestRollDeterministic(t *testing.T) {
	spec, err := Parse("4d10+2")
	if err != nil {
		t.Fatal(err)
	}
	a := spec.Roll(rand.New(rand.NewSource(7)))
	b := spec.Roll(rand.New(rand.NewSource(7)))
	if len(a.Results) != 4 {
		t.Fatalf("Roll produced %d results, want 4", len(a.Results))
	}
	for i := range a.Results {
		if a.Results[i] != b.Results[i] {
			t.Fatalf("same seed produced different results: %v vs %v", a.Results, b.Results)
		}
		if a.Results[i] < 1 || a.Results[i] > 10 {
			t.Errorf("die value %d out of range", a.Results[i])
		}
	}
	if err := spec.Validate(a.Results); err != nil {
		t.Errorf("Roll output failed Validate: %v", err)
	}
	if a.Total != spec.Total(a.Results) {
		t.Errorf("Roll total %d != Total(%v) = %d", a.Total, a.Results, spec.Total(a.Results))
	}
}
