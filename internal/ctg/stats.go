package ctg

// PredictionPoint is one day of historical outcomes.
type PredictionPoint struct {
	Date string `json:"date"`
	N    int64  `json:"N"`
	S    int64  `json:"S"`
	P    int64  `json:"P"`
}

// NSPStats counts historical cases per outcome.
type NSPStats struct {
	Normal     int64 `json:"Normal"`
	Suspect    int64 `json:"Suspect"`
	Pathologic int64 `json:"Pathologic"`
}

// Analysis is the payload of the analysis endpoint.
type Analysis struct {
	Predictions []PredictionPoint `json:"predictions"`
	NSPStats    NSPStats          `json:"nspStats"`
}

// ScanCounts is the payload of the scan counter endpoint. NSPStats is only set when the
// counter service chose to include it.
type ScanCounts struct {
	Daily    int64     `json:"daily"`
	Weekly   int64     `json:"weekly"`
	Monthly  int64     `json:"monthly"`
	Yearly   int64     `json:"yearly"`
	NSPStats *NSPStats `json:"nspStats,omitempty"`
}
