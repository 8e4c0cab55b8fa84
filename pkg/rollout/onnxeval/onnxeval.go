// Package onnxeval runs a value network via gonnx (pure Go ONNX runtime)
// as a rollout oracle. Position/profile feature encoding belongs to the
// rules engine, so the caller supplies an Encoder; this package owns model
// loading, tensor plumbing, and output decoding.
package onnxeval

import (
	"context"
	"fmt"
	"sync"

	gonnx "github.com/advancedclimatesystems/gonnx"
	"gorgonia.org/tensor"

	"github.com/freeeve/cfrsearch/pkg/game"
	"github.com/freeeve/cfrsearch/pkg/rollout"
)

// Encoder converts a joint profile into the flat float32 feature vector the
// value model expects.
type Encoder func(profile game.Profile) []float32

// Oracle evaluates joint profiles with an ONNX value model whose output is
// one utility per player, in the player order given at construction.
type Oracle struct {
	model    *gonnx.Model
	encode   Encoder
	players  []game.Player
	features int

	inputName  string
	outputName string

	mu sync.Mutex
}

// Option configures an Oracle.
type Option func(*Oracle)

// WithTensorNames overrides the model input/output tensor names
// (defaults "features" and "values").
func WithTensorNames(input, output string) Option {
	return func(o *Oracle) {
		o.inputName = input
		o.outputName = output
	}
}

// New loads the value model from modelPath. players fixes the output
// ordering; features is the encoded vector length per profile.
func New(modelPath string, encode Encoder, players []game.Player, features int, opts ...Option) (*Oracle, error) {
	model, err := gonnx.NewModelFromFile(modelPath)
	if err != nil {
		return nil, fmt.Errorf("onnxeval: load model: %w", err)
	}
	o := &Oracle{
		model:      model,
		encode:     encode,
		players:    players,
		features:   features,
		inputName:  "features",
		outputName: "values",
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Evaluate implements rollout.Oracle. Profiles are evaluated one at a time
// under a mutex; gonnx model runs are not concurrency-safe.
func (o *Oracle) Evaluate(ctx context.Context, batch []game.Profile) ([]rollout.Result, error) {
	results := make([]rollout.Result, len(batch))
	for i, profile := range batch {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		utility, err := o.evaluateOne(profile)
		if err != nil {
			return nil, fmt.Errorf("onnxeval: profile %d: %w", i, err)
		}
		results[i] = rollout.Result{Profile: profile, Utility: utility}
	}
	return results, nil
}

func (o *Oracle) evaluateOne(profile game.Profile) (map[game.Player]float64, error) {
	features := o.encode(profile)
	if len(features) != o.features {
		return nil, fmt.Errorf("encoder produced %d features, want %d", len(features), o.features)
	}

	in := tensor.New(
		tensor.WithShape(1, o.features),
		tensor.Of(tensor.Float32),
		tensor.WithBacking(features),
	)

	o.mu.Lock()
	outputs, err := o.model.Run(gonnx.Tensors{o.inputName: in})
	o.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("model run: %w", err)
	}

	out, ok := outputs[o.outputName]
	if !ok {
		// Fall back to the first output if the name doesn't match.
		for _, v := range outputs {
			out = v
			break
		}
	}
	if out == nil {
		return nil, fmt.Errorf("no output tensor from value model")
	}

	values, err := toFloat64s(out.Data())
	if err != nil {
		return nil, err
	}
	if len(values) < len(o.players) {
		return nil, fmt.Errorf("value output too short: %d values for %d players", len(values), len(o.players))
	}

	utility := make(map[game.Player]float64, len(o.players))
	for i, p := range o.players {
		utility[p] = values[i]
	}
	return utility, nil
}

func toFloat64s(data interface{}) ([]float64, error) {
	switch d := data.(type) {
	case []float64:
		return d, nil
	case []float32:
		out := make([]float64, len(d))
		for i, v := range d {
			out[i] = float64(v)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unexpected value output type %T", data)
	}
}
