package analytics

import (
	"context"
	"fmt"

	"github.com/olist-insight/server/internal/agent/model"
	"github.com/olist-insight/server/internal/agent/oracle"
	logx "github.com/olist-insight/server/pkg/logger"
)

// stageContext is the shared record the fixed stage sequence writes into.
// Later stages read earlier stages' fields; a nil field means the prior stage
// did not run.
type stageContext struct {
	task    string
	merged  *model.Table
	preview []map[string]any
	eda     *Summary
}

// Pipeline runs the load, profile and insight stages in fixed order. The
// stage list never changes per request.
type Pipeline struct {
	store       *Store
	orc         oracle.Oracle
	previewRows int
}

// NewPipeline wires the pipeline against the analytics database.
func NewPipeline(cfg model.AnalyticsConfig, orc oracle.Oracle) (*Pipeline, error) {
	store, err := NewStore(cfg)
	if err != nil {
		return nil, err
	}
	return &Pipeline{store: store, orc: orc, previewRows: cfg.PreviewRows}, nil
}

// Close releases the backing store.
func (p *Pipeline) Close() error {
	return p.store.Close()
}

// Run executes all three stages for one task and returns the bounded output.
// The merged table itself never leaves this package.
func (p *Pipeline) Run(ctx context.Context, task string) (*model.AnalyticsOutput, error) {
	sc := &stageContext{task: task}

	if err := p.loadStage(ctx, sc); err != nil {
		return nil, err
	}
	if err := p.edaStage(sc); err != nil {
		return nil, err
	}
	artifact, err := BuildArtifact(ctx, p.orc, sc.task, sc.eda)
	if err != nil {
		return nil, err
	}

	return &model.AnalyticsOutput{
		Summary:   "Generated 5 insights from EDA.",
		Analytics: artifact,
		Shape:     []int{sc.eda.Shape[0], sc.eda.Shape[1]},
		Columns:   sc.eda.Columns,
		Preview:   sc.preview,
	}, nil
}

func (p *Pipeline) loadStage(ctx context.Context, sc *stageContext) error {
	merged, err := p.store.LoadMerged(ctx)
	if err != nil {
		return err
	}
	sc.merged = merged
	sc.preview = merged.Head(p.previewRows).Records()
	logx.Info().Msg(fmt.Sprintf("Loaded and merged datasets for %d orders.", merged.NumRows()))
	return nil
}

func (p *Pipeline) edaStage(sc *stageContext) error {
	eda, err := Summarize(sc.merged)
	if err != nil {
		return err
	}
	sc.eda = eda
	return nil
}
