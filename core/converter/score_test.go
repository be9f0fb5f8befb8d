package converter

import "testing"

func TestScore(t *testing.T) {
	tests := []struct {
		name                               string
		mapped, unmapped, errors, warnings int
		want                               float64
	}{
		{"empty input is perfect", 0, 0, 0, 0, 1.0},
		{"all mapped", 10, 0, 0, 0, 1.0},
		{"half mapped", 5, 5, 0, 0, 0.5},
		{"error penalty", 10, 0, 1, 0, 0.9},
		{"warning penalty", 10, 0, 0, 1, 0.95},
		{"combined penalties", 8, 2, 1, 2, 0.6},
		{"clamped at zero", 0, 10, 5, 0, 0.0},
		{"nothing mapped", 0, 10, 0, 0, 0.0},
		{"empty input with errors", 0, 0, 3, 0, 0.7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(tt.mapped, tt.unmapped, tt.errors, tt.warnings)
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("Score(%d, %d, %d, %d) = %f, want %f",
					tt.mapped, tt.unmapped, tt.errors, tt.warnings, got, tt.want)
			}
		})
	}
}

func TestScore_Range(t *testing.T) {
	for mapped := 0; mapped <= 5; mapped++ {
		for unmapped := 0; unmapped <= 5; unmapped++ {
			for errs := 0; errs <= 3; errs++ {
				got := Score(mapped, unmapped, errs, errs)
				if got < 0 || got > 1 {
					t.Fatalf("Score(%d, %d, %d, %d) = %f out of range",
						mapped, unmapped, errs, errs, got)
				}
			}
		}
	}
}
