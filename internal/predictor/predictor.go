// Package predictor runs the captcha recognition pipeline: normalize the
// image, classify it, decode the best path and score it.
package predictor

import (
	"context"
	"errors"
	"fmt"

	"github.com/Brownie44l1/captcha-api/internal/ctc"
	"github.com/Brownie44l1/captcha-api/internal/imageproc"
)

// Classifier is the sequence model. It returns a [1, T, C] matrix where C is
// the alphabet size plus one blank class.
type Classifier interface {
	Classify(ctx context.Context, t imageproc.Tensor) (ctc.ProbabilityMatrix, error)
}

// Config is everything a Predictor needs. It is built once at startup.
type Config struct {
	Charset    *ctc.CharacterMap
	Width      int
	Height     int
	Classifier Classifier
	// MaxLength is the longest label seen in training, 0 if unknown.
	MaxLength int
}

// Result is the externally visible outcome of one prediction.
type Result struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Prediction is a Result plus the decoded index sequence behind it.
type Prediction struct {
	Result
	Indices []int
	// TooLong reports more decoded characters than Config.MaxLength.
	TooLong bool
}

// Predictor is safe for concurrent use as long as its Classifier is.
type Predictor struct {
	cfg Config
}

// New validates cfg and returns a Predictor.
func New(cfg Config) (*Predictor, error) {
	if cfg.Charset == nil {
		return nil, errors.New("predictor: nil character map")
	}
	if cfg.Classifier == nil {
		return nil, errors.New("predictor: nil classifier")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("predictor: invalid input size %dx%d", cfg.Width, cfg.Height)
	}
	return &Predictor{cfg: cfg}, nil
}

// Width returns the classifier input width.
func (p *Predictor) Width() int { return p.cfg.Width }

// Height returns the classifier input height.
func (p *Predictor) Height() int { return p.cfg.Height }

// Charset returns the character map used for decoding.
func (p *Predictor) Charset() *ctc.CharacterMap { return p.cfg.Charset }

// MaxLength returns the configured maximum label length.
func (p *Predictor) MaxLength() int { return p.cfg.MaxLength }

// Predict recognizes the text in an encoded image. Undecodable input fails
// with ErrDecode; classifier problems fail with ErrClassifier.
func (p *Predictor) Predict(ctx context.Context, raw []byte) (Result, error) {
	pred, err := p.PredictDetailed(ctx, raw)
	if err != nil {
		return Result{}, err
	}
	return pred.Result, nil
}

// PredictDetailed is Predict returning the decoded indices as well.
func (p *Predictor) PredictDetailed(ctx context.Context, raw []byte) (Prediction, error) {
	tensor, err := imageproc.Normalize(raw, p.cfg.Width, p.cfg.Height)
	if err != nil {
		return Prediction{}, decodeError(err)
	}
	return p.PredictTensor(ctx, tensor)
}

// PredictTensor runs the pipeline from an already normalized tensor.
func (p *Predictor) PredictTensor(ctx context.Context, tensor imageproc.Tensor) (Prediction, error) {
	if tensor.Width != p.cfg.Width || tensor.Height != p.cfg.Height {
		return Prediction{}, fmt.Errorf("tensor is %dx%d, classifier expects %dx%d",
			tensor.Width, tensor.Height, p.cfg.Width, p.cfg.Height)
	}

	probs, err := p.cfg.Classifier.Classify(ctx, tensor)
	if err != nil {
		return Prediction{}, classifierErrorf(err, "classify")
	}

	blank := p.cfg.Charset.BlankIndex()
	if probs.Classes != blank+1 {
		return Prediction{}, classifierErrorf(ctc.ErrMalformedMatrix,
			"%d classes, alphabet needs %d", probs.Classes, blank+1)
	}
	if len(probs.Data) != probs.Steps*probs.Classes {
		return Prediction{}, classifierErrorf(ctc.ErrMalformedMatrix,
			"%d values for %d steps", len(probs.Data), probs.Steps)
	}

	indices := ctc.DecodeGreedy(probs, blank)
	text := p.cfg.Charset.Decode(indices)
	return Prediction{
		Result: Result{
			Text:       text,
			Confidence: ctc.Score(probs, blank),
		},
		Indices: indices,
		TooLong: p.cfg.MaxLength > 0 && len(indices) > p.cfg.MaxLength,
	}, nil
}
