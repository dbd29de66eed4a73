// Command predict recognizes a single captcha image and prints the result as
// one JSON line on stdout. Diagnostics go to stderr.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/Brownie44l1/captcha-api/internal/config"
	"github.com/Brownie44l1/captcha-api/internal/ctc"
	"github.com/Brownie44l1/captcha-api/internal/model"
	"github.com/Brownie44l1/captcha-api/internal/predictor"
)

const (
	ExitSuccess       = 0
	ExitPredictFailed = 1
	ExitInvalidInput  = 2
	ExitConfigError   = 3
)

// loadClassifierFunc opens the classifier. The returned func releases it.
type loadClassifierFunc func(modelPath string, meta model.Metadata, libPath string) (predictor.Classifier, func(), error)

func loadONNX(modelPath string, meta model.Metadata, libPath string) (predictor.Classifier, func(), error) {
	s, err := model.NewServer(modelPath, meta, model.Options{SharedLibraryPath: libPath})
	if err != nil {
		return nil, nil, err
	}
	return s, s.Close, nil
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr, loadONNX))
}

func writeErr(w io.Writer, msg string) {
	_ = json.NewEncoder(w).Encode(model.ErrorResponse{Error: msg})
}

func run(args []string, stdout, stderr io.Writer, load loadClassifierFunc) int {
	logger := log.New(stderr, "predict: ", log.LstdFlags)

	root, err := config.ProjectRoot()
	if err != nil {
		root = "."
	}
	models := filepath.Join(root, "models")

	fs := flag.NewFlagSet("predict", flag.ContinueOnError)
	fs.SetOutput(stderr)
	modelPath := fs.String("model", filepath.Join(models, "captcha_model.onnx"), "ONNX model file")
	metaPath := fs.String("metadata", filepath.Join(models, "model_metadata.json"), "model metadata JSON")
	labelsPath := fs.String("labels", filepath.Join(models, "label_encoder.json"), "character mapping JSON")
	libPath := fs.String("onnxruntime", os.Getenv("ONNXRUNTIME_LIB"), "path to the onnxruntime shared library")
	verbose := fs.Bool("v", false, "log decoded indices")
	if err := fs.Parse(args); err != nil {
		return ExitInvalidInput
	}
	if fs.NArg() != 1 {
		writeErr(stderr, "No image file path provided as command-line argument.")
		return ExitInvalidInput
	}
	imagePath := fs.Arg(0)

	meta, err := config.LoadMetadata(*metaPath)
	if err != nil {
		writeErr(stderr, err.Error())
		return ExitConfigError
	}
	charset, err := ctc.LoadCharacterMapFile(*labelsPath)
	if err != nil {
		writeErr(stderr, err.Error())
		return ExitConfigError
	}
	logger.Printf("loaded %d characters, input %dx%d", charset.Len(), meta.ImgWidth, meta.ImgHeight)

	cls, release, err := load(*modelPath, meta, *libPath)
	if err != nil {
		writeErr(stderr, fmt.Sprintf("load model: %v", err))
		return ExitConfigError
	}
	defer release()
	logger.Printf("loaded model %s", *modelPath)

	p, err := predictor.New(predictor.Config{
		Charset:    charset,
		Width:      meta.ImgWidth,
		Height:     meta.ImgHeight,
		Classifier: cls,
		MaxLength:  meta.MaxLength,
	})
	if err != nil {
		writeErr(stderr, err.Error())
		return ExitConfigError
	}

	raw, err := os.ReadFile(imagePath)
	if err != nil {
		writeErr(stderr, fmt.Sprintf("Could not read image file: %v", err))
		return ExitInvalidInput
	}

	pred, err := p.PredictDetailed(context.Background(), raw)
	if err != nil {
		writeErr(stderr, err.Error())
		if errors.Is(err, predictor.ErrDecode) {
			return ExitInvalidInput
		}
		return ExitPredictFailed
	}
	if *verbose {
		logger.Printf("decoded indices: %v", pred.Indices)
	}
	if pred.TooLong {
		logger.Printf("decoded %d characters, more than max_length %d", len(pred.Indices), meta.MaxLength)
	}

	if err := json.NewEncoder(stdout).Encode(pred.Result); err != nil {
		logger.Printf("write result: %v", err)
		return ExitPredictFailed
	}
	return ExitSuccess
}
