package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/Brownie44l1/captcha-api/internal/model"
)

// ErrConfigLoad reports missing or unusable startup configuration.
var ErrConfigLoad = errors.New("failed to load configuration")

type Config struct {
	Port string

	ModelPath      string
	MetadataPath   string
	LabelsPath     string
	OnnxLibPath    string
	IntraOpThreads int

	RequestTimeout time.Duration
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// ProjectRoot returns the working directory, stepping out of cmd/<name> when
// a binary is started from there.
func ProjectRoot() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	if filepath.Base(filepath.Dir(wd)) == "cmd" {
		wd = filepath.Join(wd, "../..")
	}
	return filepath.Clean(wd), nil
}

// Load reads the service configuration from the environment. Model files
// default to the models/ directory under root.
func Load(root string) (*Config, error) {
	models := filepath.Join(root, "models")
	cfg := &Config{
		Port:         getEnv("PORT", "8080"),
		ModelPath:    getEnv("MODEL_PATH", filepath.Join(models, "captcha_model.onnx")),
		MetadataPath: getEnv("METADATA_PATH", filepath.Join(models, "model_metadata.json")),
		LabelsPath:   getEnv("LABELS_PATH", filepath.Join(models, "label_encoder.json")),
		OnnxLibPath:  os.Getenv("ONNXRUNTIME_LIB"),
	}

	timeout, err := strconv.Atoi(getEnv("REQUEST_TIMEOUT", "30"))
	if err != nil || timeout <= 0 {
		return nil, fmt.Errorf("%w: REQUEST_TIMEOUT must be a positive number of seconds", ErrConfigLoad)
	}
	cfg.RequestTimeout = time.Duration(timeout) * time.Second

	threads, err := strconv.Atoi(getEnv("ONNX_THREADS", "0"))
	if err != nil || threads < 0 {
		return nil, fmt.Errorf("%w: ONNX_THREADS must be a non-negative integer", ErrConfigLoad)
	}
	cfg.IntraOpThreads = threads

	return cfg, nil
}

// LoadMetadata reads and validates the model metadata file. Input and output
// names default to "input" and "output"; the input shape defaults to
// [1, img_height, img_width, 1].
func LoadMetadata(path string) (model.Metadata, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return model.Metadata{}, fmt.Errorf("%w: read metadata: %v", ErrConfigLoad, err)
	}

	var meta model.Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return model.Metadata{}, fmt.Errorf("%w: parse metadata: %v", ErrConfigLoad, err)
	}
	if err := validateMetadata(&meta); err != nil {
		return model.Metadata{}, fmt.Errorf("%w: %s: %v", ErrConfigLoad, path, err)
	}
	return meta, nil
}

func validateMetadata(meta *model.Metadata) error {
	if meta.ImgWidth <= 0 || meta.ImgHeight <= 0 {
		return fmt.Errorf("img_width and img_height must be positive, got %dx%d", meta.ImgWidth, meta.ImgHeight)
	}
	if meta.MaxLength < 0 {
		return fmt.Errorf("max_length must not be negative, got %d", meta.MaxLength)
	}
	if meta.InputName == "" {
		meta.InputName = "input"
	}
	if meta.OutputName == "" {
		meta.OutputName = "output"
	}

	want := []int64{1, int64(meta.ImgHeight), int64(meta.ImgWidth), 1}
	if len(meta.InputShape) == 0 {
		meta.InputShape = want
	} else if !equalShape(meta.InputShape, want) {
		return fmt.Errorf("input_shape %v does not match image size, want %v", meta.InputShape, want)
	}

	if len(meta.OutputShape) > 0 {
		if len(meta.OutputShape) != 3 || meta.OutputShape[0] != 1 || meta.OutputShape[1] < 0 || meta.OutputShape[2] <= 0 {
			return fmt.Errorf("output_shape %v, want [1, T, C]", meta.OutputShape)
		}
	}
	return nil
}

func equalShape(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
