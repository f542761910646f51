package embeddings

import (
	"math"
	"testing"
)

func TestNew(t *testing.T) {
	t.Run("defaults to openai", func(t *testing.T) {
		p, err := New(Config{APIKey: "test-key"})
		if err != nil {
			t.Fatalf("New error: %v", err)
		}
		if p.Name() != "openai" {
			t.Errorf("Name() = %q, want %q", p.Name(), "openai")
		}
	})

	t.Run("ollama", func(t *testing.T) {
		p, err := New(Config{Provider: "ollama"})
		if err != nil {
			t.Fatalf("New error: %v", err)
		}
		if p.Name() != "ollama" {
			t.Errorf("Name() = %q, want %q", p.Name(), "ollama")
		}
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := New(Config{Provider: "pinecone"})
		if err == nil {
			t.Error("expected error for unknown provider")
		}
	})
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 1.0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0.0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1.0},
		{"scaled", []float32{2, 0}, []float32{5, 0}, 1.0},
		{"empty", nil, nil, 0.0},
		{"length mismatch", []float32{1, 2}, []float32{1, 2, 3}, 0.0},
		{"zero vector", []float32{0, 0}, []float32{1, 2}, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Cosine(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Cosine() = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestCosineSymmetry(t *testing.T) {
	a := []float32{0.3, -0.7, 0.2, 0.9}
	b := []float32{-0.1, 0.4, 0.8, 0.5}

	if Cosine(a, b) != Cosine(b, a) {
		t.Error("Cosine should be symmetric")
	}
}
