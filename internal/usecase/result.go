package usecase

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/example/ctg-triage/internal/ctg"
	"github.com/example/ctg-triage/internal/logging"
)

const (
	MsgNoImageProvided  = "No image provided. Please go back to the scan page."
	MsgPredictionFailed = "Prediction failed! Please try again."
	// ReturnPath is where the result page's return action leads.
	ReturnPath = "/scan"
)

// HandoffTaker consumes a hand-off.
type HandoffTaker interface {
	Take(ctx context.Context, id string) (*ctg.Image, error)
}

// PredictionRecorder counts rendered predictions by category.
type PredictionRecorder interface {
	RecordPrediction(category string)
}

// FeatureRow is one line of the feature table.
type FeatureRow struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ResultView is the result page model.
type ResultView struct {
	NoImage      bool         `json:"no_image"`
	Message      string       `json:"message,omitempty"`
	Error        string       `json:"error,omitempty"`
	ImageName    string       `json:"image_name,omitempty"`
	Preview      string       `json:"preview,omitempty"`
	Label        string       `json:"label,omitempty"`
	Category     ctg.Category `json:"category,omitempty"`
	ShowFeatures bool         `json:"show_features"`
	Features     []FeatureRow `json:"features"`
	ReturnTo     string       `json:"return_to"`
}

// ResultUseCase classifies a handed-off image for the result page.
type ResultUseCase struct {
	handoff    HandoffTaker
	classifier ctg.Classifier
	preview    func(contentType string, data []byte) string
	metrics    PredictionRecorder
	logger     *zap.Logger
}

// NewResultUseCase wires the result page. preview and metrics may be nil.
func NewResultUseCase(handoff HandoffTaker, classifier ctg.Classifier, preview func(string, []byte) string, metrics PredictionRecorder, logger *zap.Logger) *ResultUseCase {
	return &ResultUseCase{
		handoff:    handoff,
		classifier: classifier,
		preview:    preview,
		metrics:    metrics,
		logger:     logger.Named("result_usecase"),
	}
}

// Load consumes the hand-off and makes exactly one classify call. The returned view is
// always renderable; the error tells the caller which kind of failure it shows.
func (uc *ResultUseCase) Load(ctx context.Context, handoffID string) (*ResultView, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.load_result", handoffID)

	img, err := uc.handoff.Take(ctx, handoffID)
	if errors.Is(err, ErrHandoffNotFound) {
		return noImageView(), ctg.ErrNoImage
	}
	if err != nil {
		opLogger.Error("failed to read hand-off", zap.Error(err))
		return failedView(nil, uc.previewOf(nil)), err
	}
	if img.Empty() {
		return noImageView(), ctg.ErrNoImage
	}

	result, err := uc.classifier.Classify(ctx, img)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.classify", handoffID, err)
		opLogger.Error("prediction failed", zap.Error(wrapped))
		return failedView(img, uc.previewOf(img)), wrapped
	}
	result.Normalize()

	view := &ResultView{
		ImageName:    img.Name,
		Preview:      uc.previewOf(img),
		Label:        result.Label,
		Category:     result.Category(),
		ShowFeatures: result.ShowFeatures(),
		Features:     []FeatureRow{},
		ReturnTo:     ReturnPath,
	}
	if view.ShowFeatures {
		for _, f := range result.Features {
			view.Features = append(view.Features, FeatureRow{Name: f.Name, Value: f.Display()})
		}
	}
	if uc.metrics != nil {
		uc.metrics.RecordPrediction(string(view.Category))
	}
	opLogger.Info("prediction rendered",
		zap.String("label", view.Label),
		zap.String("category", string(view.Category)),
		zap.Int("features", len(view.Features)),
	)
	return view, nil
}

func (uc *ResultUseCase) previewOf(img *ctg.Image) string {
	if img.Empty() || uc.preview == nil {
		return ""
	}
	return uc.preview(img.ContentType, img.Data)
}

func noImageView() *ResultView {
	return &ResultView{
		NoImage:  true,
		Message:  MsgNoImageProvided,
		Features: []FeatureRow{},
		ReturnTo: ReturnPath,
	}
}

func failedView(img *ctg.Image, preview string) *ResultView {
	view := &ResultView{
		Error:    MsgPredictionFailed,
		Label:    ctg.UnknownLabel,
		Category: ctg.CategoryUnknown,
		Preview:  preview,
		Features: []FeatureRow{},
		ReturnTo: ReturnPath,
	}
	if img != nil {
		view.ImageName = img.Name
	}
	return view
}
