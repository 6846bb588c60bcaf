package usecase

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/ctg-triage/internal/ctg"
	"github.com/example/ctg-triage/internal/logging"
)

// DashboardView represents aggregated scan volume and prediction history.
type DashboardView struct {
	Daily       int64                 `json:"daily"`
	Weekly      int64                 `json:"weekly"`
	Monthly     int64                 `json:"monthly"`
	Yearly      int64                 `json:"yearly"`
	Predictions []ctg.PredictionPoint `json:"predictions"`
	NSPStats    ctg.NSPStats          `json:"nspStats"`
}

// DashboardUseCase merges the analysis history and the scan counters.
type DashboardUseCase struct {
	analysis ctg.AnalysisSource
	counts   ctg.ScanCounterSource
	logger   *zap.Logger
}

func NewDashboardUseCase(analysis ctg.AnalysisSource, counts ctg.ScanCounterSource, logger *zap.Logger) *DashboardUseCase {
	return &DashboardUseCase{
		analysis: analysis,
		counts:   counts,
		logger:   logger.Named("dashboard_usecase"),
	}
}

// Load fetches both sources concurrently. An analysis failure fails the load; a scan counter
// failure is logged and leaves the counts at zero.
func (uc *DashboardUseCase) Load(ctx context.Context) (*DashboardView, error) {
	requestID := logging.CorrelationID(ctx)
	opLogger := logging.WithOperation(uc.logger, "usecase.load_dashboard", requestID)

	var (
		analysis *ctg.Analysis
		counts   *ctg.ScanCounts
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a, err := uc.analysis.FetchAnalysis(gctx)
		if err != nil {
			return err
		}
		analysis = a
		return nil
	})
	g.Go(func() error {
		c, err := uc.counts.FetchScanCounts(gctx)
		if err != nil {
			opLogger.Warn("scan counters unavailable", zap.Error(err))
			return nil
		}
		counts = c
		return nil
	})
	if err := g.Wait(); err != nil {
		wrapped := logging.NewOperationError("usecase.load_dashboard", requestID, err)
		opLogger.Error("analysis unavailable", zap.Error(wrapped))
		return nil, wrapped
	}

	view := mergeDashboard(analysis, counts)
	return &view, nil
}

// mergeDashboard overlays the scan counters on top of the analysis. Counter fields win,
// including nspStats when the counter payload carries it.
func mergeDashboard(analysis *ctg.Analysis, counts *ctg.ScanCounts) DashboardView {
	view := DashboardView{Predictions: []ctg.PredictionPoint{}}

	if analysis != nil {
		if analysis.Predictions != nil {
			view.Predictions = analysis.Predictions
		}
		view.NSPStats = analysis.NSPStats
	}
	if counts != nil {
		view.Daily = counts.Daily
		view.Weekly = counts.Weekly
		view.Monthly = counts.Monthly
		view.Yearly = counts.Yearly
		if counts.NSPStats != nil {
			view.NSPStats = *counts.NSPStats
		}
	}
	return view
}
