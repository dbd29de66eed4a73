package predictor

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strings"
	"sync"
	"testing"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/Brownie44l1/captcha-api/internal/ctc"
	"github.com/Brownie44l1/captcha-api/internal/imageproc"
)

// stubClassifier returns a matrix whose best path is path.
type stubClassifier struct {
	path    []int
	classes int
	err     error

	mu   sync.Mutex
	seen []imageproc.Tensor
}

func (s *stubClassifier) Classify(_ context.Context, t imageproc.Tensor) (ctc.ProbabilityMatrix, error) {
	s.mu.Lock()
	s.seen = append(s.seen, t)
	s.mu.Unlock()
	if s.err != nil {
		return ctc.ProbabilityMatrix{}, s.err
	}
	data := make([]float32, len(s.path)*s.classes)
	for step, idx := range s.path {
		row := data[step*s.classes : (step+1)*s.classes]
		for c := range row {
			row[c] = 0.1 / float32(s.classes-1)
		}
		row[idx] = 0.9
	}
	return ctc.NewProbabilityMatrix([]int64{1, int64(len(s.path)), int64(s.classes)}, data)
}

func renderCaptcha(t *testing.T, text string, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	d := &font.Drawer{
		Dst:  img,
		Src:  image.Black,
		Face: basicfont.Face7x13,
		Dot:  fixed.P(20, h/2+5),
	}
	d.DrawString(text)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func newPredictor(t *testing.T, cls Classifier) *Predictor {
	t.Helper()
	charset, err := ctc.NewCharacterMap(strings.Split("0123456789KXAB", ""))
	if err != nil {
		t.Fatalf("NewCharacterMap() error = %v", err)
	}
	p, err := New(Config{Charset: charset, Width: 200, Height: 50, Classifier: cls, MaxLength: 5})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p
}

func TestPredictEndToEnd(t *testing.T) {
	const blank = 14
	k, seven, x := 10, 7, 11
	cls := &stubClassifier{
		path:    []int{blank, k, k, k, blank, seven, seven, blank, x, x, blank},
		classes: blank + 1,
	}
	p := newPredictor(t, cls)

	res, err := p.Predict(context.Background(), renderCaptcha(t, "K7X", 200, 50))
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	if res.Text != "K7X" {
		t.Fatalf("Text = %q, want K7X", res.Text)
	}
	if res.Confidence < 0 || res.Confidence > 1 {
		t.Fatalf("Confidence = %v out of range", res.Confidence)
	}
	if res.Confidence < 0.89 || res.Confidence > 0.91 {
		t.Fatalf("Confidence = %v, want ~0.9", res.Confidence)
	}

	if len(cls.seen) != 1 {
		t.Fatalf("classifier called %d times", len(cls.seen))
	}
	shape := cls.seen[0].Shape()
	if shape[0] != 1 || shape[1] != 50 || shape[2] != 200 || shape[3] != 1 {
		t.Fatalf("tensor shape = %v", shape)
	}
}

func TestPredictDetailed(t *testing.T) {
	const blank = 14
	cls := &stubClassifier{path: []int{1, 1, blank, 1, 2, 3, 4, 5}, classes: blank + 1}
	p := newPredictor(t, cls)

	pred, err := p.PredictDetailed(context.Background(), renderCaptcha(t, "11234", 200, 50))
	if err != nil {
		t.Fatalf("PredictDetailed() error = %v", err)
	}
	if pred.Text != "112345" {
		t.Fatalf("Text = %q", pred.Text)
	}
	if len(pred.Indices) != 6 {
		t.Fatalf("Indices = %v", pred.Indices)
	}
	if !pred.TooLong {
		t.Fatal("expected TooLong with MaxLength 5")
	}
}

func TestPredictAllBlank(t *testing.T) {
	cls := &stubClassifier{path: []int{14, 14, 14}, classes: 15}
	p := newPredictor(t, cls)

	res, err := p.Predict(context.Background(), renderCaptcha(t, "", 200, 50))
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	if res.Text != "" || res.Confidence != 0 {
		t.Fatalf("got %+v, want empty text and zero confidence", res)
	}
}

func TestPredictInvalidImage(t *testing.T) {
	cls := &stubClassifier{path: []int{1}, classes: 15}
	p := newPredictor(t, cls)

	res, err := p.Predict(context.Background(), []byte("GIF89a but not really"))
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("error = %v, want ErrDecode", err)
	}
	if errors.Is(err, ErrClassifier) {
		t.Fatal("decode failure must not be tagged as classifier failure")
	}
	var perr *Error
	if !errors.As(err, &perr) || perr.Kind != ErrDecode {
		t.Fatalf("error %v is not a tagged *Error", err)
	}
	if res != (Result{}) {
		t.Fatalf("got partial result %+v", res)
	}
	if len(cls.seen) != 0 {
		t.Fatal("classifier must not run on undecodable input")
	}
}

func TestPredictClassifierFailure(t *testing.T) {
	boom := errors.New("session run failed")
	p := newPredictor(t, &stubClassifier{err: boom, classes: 15})

	_, err := p.Predict(context.Background(), renderCaptcha(t, "AB", 200, 50))
	if !errors.Is(err, ErrClassifier) {
		t.Fatalf("error = %v, want ErrClassifier", err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v does not wrap the cause", err)
	}
}

func TestPredictClassCountMismatch(t *testing.T) {
	p := newPredictor(t, &stubClassifier{path: []int{0, 1}, classes: 10})

	_, err := p.Predict(context.Background(), renderCaptcha(t, "AB", 200, 50))
	if !errors.Is(err, ErrClassifier) || !errors.Is(err, ctc.ErrMalformedMatrix) {
		t.Fatalf("error = %v, want ErrClassifier wrapping ErrMalformedMatrix", err)
	}
}

func TestPredictTensorSizeMismatch(t *testing.T) {
	p := newPredictor(t, &stubClassifier{path: []int{0}, classes: 15})
	tensor, _ := imageproc.NewTensor(2, 2, make([]float32, 4))
	if _, err := p.PredictTensor(context.Background(), tensor); err == nil {
		t.Fatal("expected size mismatch error")
	}
}

func TestPredictConcurrent(t *testing.T) {
	const blank = 14
	cls := &stubClassifier{path: []int{10, blank, 7, 11}, classes: blank + 1}
	p := newPredictor(t, cls)
	raw := renderCaptcha(t, "K7X", 200, 50)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := p.Predict(context.Background(), raw)
			if err == nil && res.Text != "K7X" {
				err = errors.New("unexpected text " + res.Text)
			}
			if err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	charset, _ := ctc.NewCharacterMap([]string{"a"})
	cls := &stubClassifier{classes: 2}
	bad := []Config{
		{Width: 10, Height: 10, Classifier: cls},
		{Charset: charset, Width: 10, Height: 10},
		{Charset: charset, Width: 0, Height: 10, Classifier: cls},
	}
	for i, cfg := range bad {
		if _, err := New(cfg); err == nil {
			t.Errorf("case %d: expected error", i)
		}
	}
}

func TestErrorMessage(t *testing.T) {
	err := classifierErrorf(errors.New("boom"), "classify")
	if got := err.Error(); got != "classifier failure: classify: boom" {
		t.Fatalf("Error() = %q", got)
	}
	_, nerr := imageproc.Normalize(nil, 1, 1)
	if got := decodeError(nerr).Error(); strings.Count(got, ErrDecode.Error()) != 1 {
		t.Fatalf("Error() = %q repeats the kind", got)
	}
}
