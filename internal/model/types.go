package model

// Metadata describes the exported model. It is stored next to the ONNX file
// as model_metadata.json.
type Metadata struct {
	ImgWidth    int     `json:"img_width"`
	ImgHeight   int     `json:"img_height"`
	MaxLength   int     `json:"max_length"`
	InputName   string  `json:"input_name"`
	OutputName  string  `json:"output_name"`
	InputShape  []int64 `json:"input_shape"`
	OutputShape []int64 `json:"output_shape"`
}

// TensorRequest is the body of POST /predict/tensor: a normalized
// grayscale image, row-major, img_height * img_width values in [0, 1].
type TensorRequest struct {
	Image []float32 `json:"image"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Classes   int    `json:"classes"`
	Width     int    `json:"img_width"`
	Height    int    `json:"img_height"`
	MaxLength int    `json:"max_length,omitempty"`
}
