package main

import (
	"log"
	"net/http"

	"github.com/Brownie44l1/captcha-api/internal/config"
	"github.com/Brownie44l1/captcha-api/internal/ctc"
	"github.com/Brownie44l1/captcha-api/internal/handlers"
	"github.com/Brownie44l1/captcha-api/internal/model"
	"github.com/Brownie44l1/captcha-api/internal/predictor"
)

func enableCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

func main() {
	root, err := config.ProjectRoot()
	if err != nil {
		log.Fatalf("Failed to get working directory: %v", err)
	}

	cfg, err := config.Load(root)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	meta, err := config.LoadMetadata(cfg.MetadataPath)
	if err != nil {
		log.Fatalf("Failed to load metadata: %v", err)
	}

	charset, err := ctc.LoadCharacterMapFile(cfg.LabelsPath)
	if err != nil {
		log.Fatalf("Failed to load character mapping: %v", err)
	}

	log.Printf("Loading model from: %s", cfg.ModelPath)

	modelServer, err := model.NewServer(cfg.ModelPath, meta, model.Options{
		SharedLibraryPath: cfg.OnnxLibPath,
		IntraOpThreads:    cfg.IntraOpThreads,
	})
	if err != nil {
		log.Fatalf("Failed to initialize model server: %v", err)
	}
	defer modelServer.Close()

	if classes := modelServer.Metadata.OutputShape[2]; classes != int64(charset.BlankIndex()+1) {
		log.Fatalf("Model has %d classes, character mapping needs %d", classes, charset.BlankIndex()+1)
	}

	p, err := predictor.New(predictor.Config{
		Charset:    charset,
		Width:      meta.ImgWidth,
		Height:     meta.ImgHeight,
		Classifier: modelServer,
		MaxLength:  meta.MaxLength,
	})
	if err != nil {
		log.Fatalf("Failed to create predictor: %v", err)
	}

	handler := handlers.NewHandler(p, cfg.RequestTimeout)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", enableCORS(handler.Health))
	mux.HandleFunc("/encoder", enableCORS(handler.Encoder))
	mux.HandleFunc("/predict", enableCORS(handler.PredictFromImage))
	mux.HandleFunc("/predict/tensor", enableCORS(handler.PredictTensor))

	log.Printf("Server starting on port %s", cfg.Port)
	log.Printf("Model loaded: %s (input %dx%d, output %v)", cfg.ModelPath, meta.ImgWidth, meta.ImgHeight, modelServer.Metadata.OutputShape)
	log.Printf("Characters: %v (blank index %d)", charset.Chars(), charset.BlankIndex())
	log.Println("Endpoints:")
	log.Println("  GET  /health         - Health check")
	log.Println("  GET  /encoder        - Character mapping")
	log.Println("  POST /predict        - Predict from image upload")
	log.Println("  POST /predict/tensor - Predict from normalized array")
	log.Printf("Upload test: curl -X POST -F \"file=@captcha.png\" http://localhost:%s/predict", cfg.Port)

	if err := http.ListenAndServe(":"+cfg.Port, mux); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
