package ctg

import "context"

// Image is the pending captured or uploaded CTG strip. At most one is held per page session.
type Image struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"`
	// Preview is a display-only reference (a data URL); it is never sent to a backend.
	Preview string `json:"-"`
}

// Empty reports whether the image carries no payload.
func (img *Image) Empty() bool {
	return img == nil || len(img.Data) == 0
}

// Uploader accepts a scan image for record keeping.
type Uploader interface {
	UploadScan(ctx context.Context, img *Image) error
}

// Classifier sends an image to the prediction service.
type Classifier interface {
	Classify(ctx context.Context, img *Image) (*PredictionResult, error)
}

// AnalysisSource returns historical predictions and NSP counts.
type AnalysisSource interface {
	FetchAnalysis(ctx context.Context) (*Analysis, error)
}

// ScanCounterSource returns scan volume counters.
type ScanCounterSource interface {
	FetchScanCounts(ctx context.Context) (*ScanCounts, error)
}
