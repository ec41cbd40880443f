package model

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/optim"
	"github.com/born-ml/born/tensor"
	"github.com/olekukonko/tablewriter"

	"github.com/born-ml/trainkit/internal/batch"
	"github.com/born-ml/trainkit/internal/engine"
	"github.com/born-ml/trainkit/internal/layer"
	"github.com/born-ml/trainkit/internal/metrics"
)

// LossName is the history key of the loss value.
const LossName = "loss"

// ErrForeignBackend is returned for batches whose tensors were created on a
// backend other than the model's. Their ops would not reach the model's tape.
var ErrForeignBackend = errors.New("model: batch tensors belong to another backend")

// FrameworkError wraps a panic raised by the execution engine, typically a
// shape mismatch, so it reaches the caller as an ordinary error.
type FrameworkError struct {
	Op    string
	Value any
}

// Error implements the error interface.
func (e *FrameworkError) Error() string {
	return fmt.Sprintf("model: %s: %v", e.Op, e.Value)
}

// Unwrap returns the panic value when it was an error.
func (e *FrameworkError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

func recoverFramework(op string, err *error) {
	if r := recover(); r != nil {
		*err = &FrameworkError{Op: op, Value: r}
	}
}

// Model is a compiled sequential network: built layers with an optimizer,
// loss and metrics attached, ready to fit and evaluate.
//
// A Model is not safe for concurrent use.
type Model struct {
	backend   engine.Backend
	layers    []*layer.Built
	config    Config
	optimizer optim.Optimizer
	loss      lossKind
	metrics   []metric
	softmax   bool
}

// Len returns the number of layers.
func (m *Model) Len() int {
	return len(m.layers)
}

// Backend returns the backend the model was compiled on. Batches passed to
// Fit and Evaluate must be stacked on it.
func (m *Model) Backend() engine.Backend {
	return m.backend
}

// Layers returns the descriptors the model was built from, in order.
func (m *Model) Layers() []layer.Descriptor {
	out := make([]layer.Descriptor, len(m.layers))
	for i, l := range m.layers {
		out[i] = l.Descriptor()
	}
	return out
}

// Layer returns the i-th built layer.
func (m *Model) Layer(i int) *layer.Built {
	return m.layers[i]
}

// Config returns the configuration the model was compiled from.
func (m *Model) Config() Config {
	return m.config
}

// MetricsNames returns the names of the values Evaluate reports: the loss
// first, then the declared metrics.
func (m *Model) MetricsNames() []string {
	names := make([]string, 0, len(m.metrics)+1)
	names = append(names, LossName)
	for _, mt := range m.metrics {
		names = append(names, mt.name)
	}
	return names
}

// InputShape returns the per-sample input shape of the first layer.
func (m *Model) InputShape() []int {
	return m.layers[0].InputShape()
}

// OutputShape returns the per-sample output shape of the last layer.
func (m *Model) OutputShape() []int {
	return m.layers[len(m.layers)-1].OutputShape()
}

// Parameters returns all trainable parameters.
func (m *Model) Parameters() []*nn.Parameter[engine.Backend] {
	var params []*nn.Parameter[engine.Backend]
	for _, l := range m.layers {
		params = append(params, l.Parameters()...)
	}
	return params
}

// NumParams counts the scalar trainable parameters.
func (m *Model) NumParams() int {
	total := 0
	for _, l := range m.layers {
		total += l.NumParams()
	}
	return total
}

// Forward runs every layer in order. The output of a softmax-activated last
// layer is left as logits.
func (m *Model) Forward(input *engine.Tensor) *engine.Tensor {
	x := input
	for _, l := range m.layers {
		x = l.Forward(x)
	}
	return x
}

// Fit performs one optimization step on b and returns the loss and metrics
// measured on the forward pass of that step.
func (m *Model) Fit(ctx context.Context, b *batch.Batch) (logs metrics.Logs, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer recoverFramework("fit", &err)
	if err := m.checkBackend(b); err != nil {
		return nil, err
	}

	tape := m.backend.Tape()
	tape.Clear()
	tape.StartRecording()
	defer func() {
		tape.StopRecording()
		tape.Clear()
	}()

	m.optimizer.ZeroGrad()

	logits := m.Forward(b.Inputs)
	out, err := m.computeLoss(logits, b.Targets)
	if err != nil {
		return nil, err
	}

	grads := tape.Backward(out.seed, m.backend)
	m.optimizer.Step(grads)

	return m.report(logits, b.Targets, out), nil
}

// Evaluate computes the loss and metrics on b without updating weights.
// Values are ordered as MetricsNames.
func (m *Model) Evaluate(ctx context.Context, b *batch.Batch) (values []float64, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer recoverFramework("evaluate", &err)
	if err := m.checkBackend(b); err != nil {
		return nil, err
	}

	tape := m.backend.Tape()
	wasRecording := tape.IsRecording()
	tape.StopRecording()
	defer func() {
		if wasRecording {
			tape.StartRecording()
		}
	}()

	logits := m.Forward(b.Inputs)
	out, err := m.computeLoss(logits, b.Targets)
	if err != nil {
		return nil, err
	}

	logs := m.report(logits, b.Targets, out)
	values = make([]float64, 0, len(logs))
	for _, name := range m.MetricsNames() {
		values = append(values, logs[name])
	}
	return values, nil
}

// Predict runs a forward pass without recording gradients. A softmax
// declared on the last layer is applied to the output.
func (m *Model) Predict(ctx context.Context, input *engine.Tensor) (out *engine.Tensor, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer recoverFramework("predict", &err)

	tape := m.backend.Tape()
	wasRecording := tape.IsRecording()
	tape.StopRecording()
	defer func() {
		if wasRecording {
			tape.StartRecording()
		}
	}()

	logits := m.Forward(input)
	if !m.softmax {
		return logits, nil
	}
	dims := engine.Dims(logits)
	return engine.FromSlice(m.backend, softmaxRows(logits.Data(), dims[len(dims)-1]), dims...)
}

// Summary writes a table of layers, output shapes and parameter counts.
func (m *Model) Summary(w io.Writer) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"#", "LAYER", "OUTPUT SHAPE", "PARAMS"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	table.SetBorder(false)

	for i, l := range m.layers {
		table.Append([]string{
			strconv.Itoa(i),
			layer.String(l.Descriptor()),
			fmt.Sprint(l.OutputShape()),
			strconv.Itoa(l.NumParams()),
		})
	}
	table.SetFooter([]string{"", "", "TOTAL", strconv.Itoa(m.NumParams())})
	table.Render()
}

func (m *Model) checkBackend(b *batch.Batch) error {
	if b.Inputs.Backend() != m.backend || b.Targets.Backend() != m.backend {
		return ErrForeignBackend
	}
	return nil
}

// lossOutput carries the loss value, the gradient seed handed to the tape,
// and the class labels when the loss derived them.
type lossOutput struct {
	value  float64
	seed   *tensor.RawTensor
	labels *engine.Labels
}

func (m *Model) computeLoss(logits, targets *engine.Tensor) (lossOutput, error) {
	if m.loss.crossEntropy() {
		dims := engine.Dims(logits)
		if len(dims) != 2 {
			return lossOutput{}, fmt.Errorf("model: cross-entropy needs [batch, classes] output, got %v", dims)
		}
		labels, err := m.classLabels(targets, dims[0], dims[1])
		if err != nil {
			return lossOutput{}, err
		}
		lossRaw := m.backend.CrossEntropy(logits.Raw(), labels.Raw())

		seed, err := tensor.NewRaw(lossRaw.Shape(), lossRaw.DType(), m.backend.Device())
		if err != nil {
			return lossOutput{}, err
		}
		for i := range seed.AsFloat32() {
			seed.AsFloat32()[i] = 1
		}
		return lossOutput{value: float64(lossRaw.AsFloat32()[0]), seed: seed, labels: labels}, nil
	}

	// A declared softmax is part of the regression output: the loss is taken
	// on the probabilities and its gradient is carried back to the logits.
	dims := engine.Dims(logits)
	width := dims[len(dims)-1]
	pred := logits.Data()
	if m.softmax {
		pred = softmaxRows(pred, width)
	}
	truth := denseTargets(targets.Data(), len(pred), dims)
	if len(pred) != len(truth) {
		return lossOutput{}, fmt.Errorf("model: prediction has %d values but target has %d", len(pred), len(truth))
	}
	seed, err := tensor.NewRaw(logits.Shape(), tensor.Float32, m.backend.Device())
	if err != nil {
		return lossOutput{}, err
	}
	grad := seed.AsFloat32()
	n := float64(len(pred))
	var sum float64
	for i := range pred {
		diff := float64(pred[i]) - float64(truth[i])
		sum += diff * diff
		grad[i] = float32(2 * diff / n)
	}
	if m.softmax {
		softmaxBackward(grad, pred, width)
	}
	return lossOutput{value: sum / n, seed: seed}, nil
}

// softmaxBackward turns, row by row, a gradient with respect to softmax
// probabilities p into one with respect to the logits:
// g_j <- p_j * (g_j - sum_i g_i p_i).
func softmaxBackward(grad, probs []float32, width int) {
	for start := 0; start+width <= len(grad); start += width {
		g := grad[start : start+width]
		p := probs[start : start+width]
		var dot float64
		for i := range g {
			dot += float64(g[i]) * float64(p[i])
		}
		for i := range g {
			g[i] = float32(float64(p[i]) * (float64(g[i]) - dot))
		}
	}
}

// classLabels turns targets into class indices: argmax of one-hot rows for
// categorical targets, the values themselves for sparse targets.
func (m *Model) classLabels(targets *engine.Tensor, n, classes int) (*engine.Labels, error) {
	data := targets.Data()
	labels := make([]int32, n)

	switch {
	case m.loss == categoricalCrossentropy || len(data) == n*classes && classes > 1:
		if len(data) != n*classes {
			return nil, fmt.Errorf("model: categorical targets need shape [%d, %d], got %v", n, classes, targets.Shape())
		}
		for i := 0; i < n; i++ {
			labels[i] = int32(argmax(data[i*classes : (i+1)*classes]))
		}
	default:
		if len(data) != n {
			return nil, fmt.Errorf("model: sparse targets need %d class indices, got shape %v", n, targets.Shape())
		}
		for i, v := range data {
			c := int32(v)
			if c < 0 || int(c) >= classes {
				return nil, fmt.Errorf("model: class index %d out of range [0, %d)", c, classes)
			}
			labels[i] = c
		}
	}
	return engine.LabelsFromSlice(m.backend, labels)
}

func (m *Model) report(logits, targets *engine.Tensor, out lossOutput) metrics.Logs {
	logs := metrics.Logs{LossName: out.value}
	if len(m.metrics) == 0 {
		return logs
	}

	dims := engine.Dims(logits)
	pred := logits.Data()
	if m.softmax {
		pred = softmaxRows(pred, dims[len(dims)-1])
	}

	for _, mt := range m.metrics {
		switch mt.kind {
		case accuracyMetric:
			logs[mt.name] = m.accuracy(logits, targets, out.labels)
		case mseMetric, maeMetric:
			truth := denseTargets(targets.Data(), len(pred), dims)
			logs[mt.name] = regression(mt.kind, pred, truth)
		}
	}
	return logs
}

func (m *Model) accuracy(logits, targets *engine.Tensor, labels *engine.Labels) float64 {
	dims := engine.Dims(logits)
	if len(dims) == 2 && dims[1] > 1 {
		if labels == nil {
			var err error
			if labels, err = m.classLabels(targets, dims[0], dims[1]); err != nil {
				return math.NaN()
			}
		}
		return float64(nn.Accuracy(logits, labels))
	}

	// Single output: threshold at 0.5 against the rounded target.
	pred := logits.Data()
	truth := targets.Data()
	if len(pred) != len(truth) || len(pred) == 0 {
		return math.NaN()
	}
	correct := 0
	for i := range pred {
		p := pred[i] >= 0.5
		t := truth[i] >= 0.5
		if p == t {
			correct++
		}
	}
	return float64(correct) / float64(len(pred))
}

// denseTargets expands sparse class indices to one-hot rows when the
// prediction has one value per class.
func denseTargets(truth []float32, size int, dims []int) []float32 {
	if len(truth) == size || len(dims) != 2 || len(truth) != dims[0] {
		return truth
	}
	classes := dims[1]
	out := make([]float32, size)
	for i, v := range truth {
		c := int(v)
		if c >= 0 && c < classes {
			out[i*classes+c] = 1
		}
	}
	return out
}

func regression(kind metricKind, pred, truth []float32) float64 {
	if len(pred) != len(truth) || len(pred) == 0 {
		return math.NaN()
	}
	var sum float64
	for i := range pred {
		diff := float64(pred[i]) - float64(truth[i])
		if kind == mseMetric {
			sum += diff * diff
		} else {
			sum += math.Abs(diff)
		}
	}
	return sum / float64(len(pred))
}

func softmaxRows(data []float32, width int) []float32 {
	out := make([]float32, len(data))
	for start := 0; start+width <= len(data); start += width {
		row := data[start : start+width]
		maxV := row[argmax(row)]
		var sum float64
		for i, v := range row {
			e := math.Exp(float64(v - maxV))
			out[start+i] = float32(e)
			sum += e
		}
		for i := range row {
			out[start+i] = float32(float64(out[start+i]) / sum)
		}
	}
	return out
}

func argmax(row []float32) int {
	best := 0
	for i, v := range row {
		if v > row[best] {
			best = i
		}
	}
	return best
}
