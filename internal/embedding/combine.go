package embedding

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// CombineMethod selects how weighted tensors are reduced into one.
type CombineMethod string

// Supported combine methods.
const (
	MethodMean          CombineMethod = "mean"
	MethodSum           CombineMethod = "sum"
	MethodMedian        CombineMethod = "median"
	MethodMax           CombineMethod = "max"
	MethodMin           CombineMethod = "min"
	MethodNormalizedSum CombineMethod = "normalized_sum"
)

var (
	// ErrWeightMismatch indicates that weights and embeddings differ in length.
	ErrWeightMismatch = errors.New("weights must match the number of embeddings")
	// ErrInvalidMethod indicates a combine method outside the supported set.
	ErrInvalidMethod = errors.New("invalid combine method")
	// ErrNoEmbeddings indicates an empty list of embeddings.
	ErrNoEmbeddings = errors.New("at least one embedding is required")
	// ErrZeroWeightSum indicates weights that cannot be normalised.
	ErrZeroWeightSum = errors.New("sum of weights cannot be zero")
)

// Methods returns every supported combine method in a stable order.
func Methods() []CombineMethod {
	return []CombineMethod{
		MethodMean,
		MethodSum,
		MethodMedian,
		MethodMax,
		MethodMin,
		MethodNormalizedSum,
	}
}

// Valid reports whether m is one of the supported methods.
func (m CombineMethod) Valid() bool {
	return slices.Contains(Methods(), m)
}

func (m CombineMethod) String() string {
	return string(m)
}

// ParseCombineMethod parses a method name case-insensitively.
func ParseCombineMethod(name string) (CombineMethod, error) {
	method := CombineMethod(strings.ToLower(strings.TrimSpace(name)))
	if !method.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidMethod, name)
	}

	return method, nil
}

// Pair is a conditioning latent together with the speaker embedding extracted
// from the same reference audio.
type Pair struct {
	Latent    Tensor
	Embedding Tensor
}

// Combine scales each embedding by its weight and reduces the weighted tensors
// elementwise with method. A nil weights slice weights every embedding by 1.
//
// MethodMean divides the sum of the weighted tensors by their count, not by the
// sum of the weights. A weighted average is MethodSum over weights that sum to
// one, see NormalizeWeights.
func Combine(embeddings []Tensor, method CombineMethod, weights []float64) (Tensor, error) {
	if len(embeddings) == 0 {
		return Tensor{}, ErrNoEmbeddings
	}

	if weights == nil {
		weights = make([]float64, len(embeddings))
		for i := range weights {
			weights[i] = 1
		}
	}

	if len(weights) != len(embeddings) {
		return Tensor{}, fmt.Errorf("%w: %d weights for %d embeddings", ErrWeightMismatch, len(weights), len(embeddings))
	}

	if !method.Valid() {
		return Tensor{}, fmt.Errorf("%w: %q", ErrInvalidMethod, string(method))
	}

	first := embeddings[0]
	for i, tensor := range embeddings {
		if !tensor.SameShape(first) || len(tensor.Data) == 0 {
			return Tensor{}, fmt.Errorf("%w: embedding %d has shape %v, expected %v", ErrShapeMismatch, i, tensor.Shape, first.Shape)
		}
	}

	weighted := make([]Tensor, len(embeddings))
	for i, tensor := range embeddings {
		weighted[i] = tensor.Scale(weights[i])
	}

	switch method {
	case MethodMean:
		return reduce(weighted, meanOf), nil
	case MethodSum:
		return reduce(weighted, sumOf), nil
	case MethodMedian:
		return reduce(weighted, medianOf), nil
	case MethodMax:
		return reduce(weighted, maxOf), nil
	case MethodMin:
		return reduce(weighted, minOf), nil
	case MethodNormalizedSum:
		normalized := make([]Tensor, len(weighted))
		for i, tensor := range weighted {
			normalized[i] = tensor.Scale(1 / tensor.Norm())
		}

		return reduce(normalized, sumOf), nil
	default:
		return Tensor{}, fmt.Errorf("%w: %q", ErrInvalidMethod, string(method))
	}
}

// AverageLatentsAndEmbeddings combines the latents and the embeddings of pairs
// independently, using the same method and weights for both.
func AverageLatentsAndEmbeddings(pairs []Pair, method CombineMethod, weights []float64) (Tensor, Tensor, error) {
	latents := make([]Tensor, len(pairs))
	embeddings := make([]Tensor, len(pairs))

	for i, pair := range pairs {
		latents[i] = pair.Latent
		embeddings[i] = pair.Embedding
	}

	latent, err := Combine(latents, method, weights)
	if err != nil {
		return Tensor{}, Tensor{}, fmt.Errorf("failed to combine conditioning latents: %w", err)
	}

	speakerEmbedding, err := Combine(embeddings, method, weights)
	if err != nil {
		return Tensor{}, Tensor{}, fmt.Errorf("failed to combine speaker embeddings: %w", err)
	}

	return latent, speakerEmbedding, nil
}

// NormalizeWeights rescales weights so that they sum to one.
func NormalizeWeights(weights []float64) ([]float64, error) {
	var total float64
	for _, w := range weights {
		total += w
	}

	if total == 0 {
		return nil, ErrZeroWeightSum
	}

	out := make([]float64, len(weights))
	for i, w := range weights {
		out[i] = w / total
	}

	return out, nil
}

// reduce applies fn to the column of values found at each element position.
func reduce(tensors []Tensor, fn func([]float64) float64) Tensor {
	size := len(tensors[0].Data)
	out := make([]float32, size)
	column := make([]float64, len(tensors))

	for pos := range size {
		for i, tensor := range tensors {
			column[i] = float64(tensor.Data[pos])
		}

		out[pos] = float32(fn(column))
	}

	return Tensor{Shape: append([]int(nil), tensors[0].Shape...), Data: out}
}

func sumOf(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}

	return sum
}

func meanOf(values []float64) float64 {
	return sumOf(values) / float64(len(values))
}

// medianOf returns the lower of the two middle values for an even count.
func medianOf(values []float64) float64 {
	sorted := slices.Clone(values)
	slices.Sort(sorted)

	return sorted[(len(sorted)-1)/2]
}

func maxOf(values []float64) float64 {
	return slices.Max(values)
}

func minOf(values []float64) float64 {
	return slices.Min(values)
}
