package migrate

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vecshift/internal/schema"
	"github.com/fyrsmithlabs/vecshift/internal/target"
)

// Plan previews a run without writing anything.
type Plan struct {
	RunID       string           `json:"run_id"`
	Mode        Mode             `json:"mode"`
	Collections []CollectionPlan `json:"collections"`

	TotalRecords int64 `json:"total_records"`
	TotalBatches int64 `json:"total_batches"`
}

// CollectionPlan previews one collection.
type CollectionPlan struct {
	Collection string `json:"collection"`
	Target     string `json:"target"`

	Records int64 `json:"records"`
	Batches int64 `json:"batches"`
	Dim     int   `json:"dim"`

	TargetExists bool     `json:"target_exists"`
	Action       string   `json:"action"`
	Fields       []string `json:"fields"`
	Warnings     []string `json:"warnings,omitempty"`
	Err          string   `json:"error,omitempty"`
}

// Plan inspects every selected collection: schema mapping, counts, batch
// estimates and what would happen to pre-existing target collections. The
// target store is only read, never written.
func (o *Orchestrator) Plan(ctx context.Context) (*Plan, error) {
	if err := o.ping(ctx); err != nil {
		return nil, err
	}

	names, err := o.resolveCollections(ctx)
	if err != nil {
		return nil, err
	}

	plan := &Plan{RunID: o.runID, Mode: o.opts.Mode}
	for _, name := range names {
		cp := o.planCollection(ctx, name)
		plan.Collections = append(plan.Collections, cp)
		plan.TotalRecords += cp.Records
		plan.TotalBatches += cp.Batches
	}

	o.deps.Logger.Info(ctx, "plan complete",
		zap.Int("collections", len(plan.Collections)),
		zap.Int64("records", plan.TotalRecords),
		zap.Int64("batches", plan.TotalBatches),
	)
	return plan, nil
}

func (o *Orchestrator) planCollection(ctx context.Context, name string) CollectionPlan {
	cp := CollectionPlan{Collection: name}

	count, err := o.deps.Reader.Count(ctx, name)
	if err != nil {
		cp.Err = fmt.Sprintf("counting: %v", err)
		return cp
	}
	cp.Records = count
	if o.opts.Limit > 0 && o.opts.Limit < cp.Records {
		cp.Records = o.opts.Limit
	}
	cp.Batches = (cp.Records + int64(o.opts.BatchSize) - 1) / int64(o.opts.BatchSize)

	if count == 0 {
		cp.Action = "skip: empty"
		return cp
	}

	src, err := o.deps.Reader.Schema(ctx, name)
	if err != nil {
		cp.Err = fmt.Sprintf("reading schema: %v", err)
		return cp
	}
	dim, err := o.deps.Reader.SampleDimension(ctx, name)
	if err != nil {
		cp.Err = fmt.Sprintf("sampling dimension: %v", err)
		return cp
	}
	cp.Dim = dim

	mapped, warnings, err := schema.Map(src, dim)
	if err != nil {
		cp.Err = err.Error()
		return cp
	}
	cp.Target = mapped.Collection
	cp.Warnings = warnings
	for _, f := range mapped.Fields {
		cp.Fields = append(cp.Fields, fmt.Sprintf("%s:%s", f.Name, f.Type))
	}

	exists, err := o.deps.Writer.Has(ctx, mapped.Collection)
	if err != nil {
		cp.Err = fmt.Sprintf("checking target: %v", err)
		return cp
	}
	cp.TargetExists = exists

	switch {
	case !cp.TargetExists:
		cp.Action = "create and migrate"
	case o.opts.OnExisting == target.ExistingSkip:
		cp.Action = "skip: target exists"
	case o.opts.OnExisting == target.ExistingFail:
		cp.Action = "fail: target exists"
	default:
		cp.Action = "recreate and migrate"
	}
	return cp
}
