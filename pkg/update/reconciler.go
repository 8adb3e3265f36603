package update

import (
	"context"
	"time"

	"github.com/updraft-io/updraft/pkg/telemetry"
)

// Result is what a completed reconciliation run exposes to callers: the
// modified-entity accounting (including plugin install/uninstall side
// effects), the settled node snapshots, and the instance buckets.
type Result struct {
	ModifiedEntities *ModifiedEntities
	Nodes            []map[string]any
	InstanceChanges  map[ChangeType]Buckets
}

// Reconciler drives one deployment update end to end, in the fixed
// lifecycle order: dependency handle, node handle, deployment handle,
// instance handle, then instance / node / deployment / dependency finalize.
type Reconciler struct {
	store   Storage
	log     *telemetry.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer

	dependencies *DependencyUpdateHandler
	nodes        *NodeUpdateHandler
	deployment   *DeploymentUpdateHandler
	instances    *InstanceUpdateHandler
}

// NewReconciler wires a reconciler. metrics and tracer may be nil.
func NewReconciler(store Storage, log *telemetry.Logger, metrics *telemetry.Metrics, tracer *telemetry.Tracer) *Reconciler {
	componentLog := log.NewComponentLogger("reconciler")
	var onPruned func()
	if metrics != nil {
		onPruned = metrics.RecordDependencyPruned
	}
	return &Reconciler{
		store:        store,
		log:          componentLog,
		metrics:      metrics,
		tracer:       tracer,
		dependencies: NewDependencyUpdateHandler(store, log, onPruned),
		nodes:        NewNodeUpdateHandler(store, log),
		deployment:   NewDeploymentUpdateHandler(store, log),
		instances:    NewInstanceUpdateHandler(store, log),
	}
}

// Validate checks every step against the dispatch tables without touching
// storage. Steps whose entity type no handler owns, or whose action the
// owning handler lacks, fail here.
func (r *Reconciler) Validate(steps []Step) error {
	for _, step := range steps {
		if !r.nodes.Supports(step.EntityType) && !r.deployment.Supports(step.EntityType) {
			return NewUnsupportedStep(step.EntityType, step.Action)
		}
	}
	if err := r.nodes.Validate(steps); err != nil {
		return err
	}
	return r.deployment.Validate(steps)
}

// Run applies one deployment update. Handler failures abort the whole run;
// atomicity is the caller's transaction boundary, not the engine's.
func (r *Reconciler) Run(ctx context.Context, du *DeploymentUpdate, changes InstanceChanges) (*Result, error) {
	if err := r.Validate(du.Steps); err != nil {
		return nil, err
	}

	log := r.log.WithUpdateID(du.ID).WithDeploymentID(du.DeploymentID)
	log.WithField("steps", len(du.Steps)).Info("starting deployment update reconciliation")
	started := time.Now()
	if r.metrics != nil {
		r.metrics.RecordUpdateStarted(du.DeploymentID)
	}
	if r.tracer != nil {
		spanCtx, updateSpan := r.tracer.StartUpdateSpan(ctx, du.ID, du.DeploymentID)
		ctx = spanCtx
		defer updateSpan.End()
	}

	du.InstanceChanges = changes.Partition()
	if du.ModifiedEntities == nil {
		du.ModifiedEntities = NewModifiedEntities()
	}

	result, err := r.run(ctx, du)
	duration := time.Since(started)
	if err != nil {
		if r.metrics != nil {
			r.metrics.RecordUpdateCompleted("failed", duration)
			r.metrics.RecordError(string(ClassOf(err)))
		}
		log.WithError(err).Error("deployment update reconciliation failed")
		return nil, err
	}
	if r.metrics != nil {
		r.metrics.RecordUpdateCompleted("succeeded", duration)
	}
	log.WithField("duration", duration.String()).
		Info("deployment update reconciliation completed")
	return result, nil
}

func (r *Reconciler) run(ctx context.Context, du *DeploymentUpdate) (*Result, error) {
	if err := r.phase(ctx, "dependencies.handle", func(ctx context.Context) error {
		return r.dependencies.Handle(ctx, du)
	}); err != nil {
		return nil, err
	}

	var nodeModified, deploymentModified *ModifiedEntities
	if err := r.phase(ctx, "nodes.handle", func(ctx context.Context) error {
		var err error
		nodeModified, err = r.nodes.Handle(ctx, du)
		return err
	}); err != nil {
		return nil, err
	}
	if err := r.phase(ctx, "deployment.handle", func(ctx context.Context) error {
		var err error
		deploymentModified, err = r.deployment.Handle(ctx, du)
		return err
	}); err != nil {
		return nil, err
	}

	du.ModifiedEntities.Merge(nodeModified)
	du.ModifiedEntities.Merge(deploymentModified)
	r.recordStepMetrics(du)

	if err := r.phase(ctx, "instances.handle", func(ctx context.Context) error {
		return r.instances.Handle(ctx, du)
	}); err != nil {
		return nil, err
	}

	if err := r.phase(ctx, "instances.finalize", func(ctx context.Context) error {
		return r.instances.Finalize(ctx, du)
	}); err != nil {
		return nil, err
	}
	if err := r.phase(ctx, "nodes.finalize", func(ctx context.Context) error {
		return r.nodes.Finalize(ctx, du)
	}); err != nil {
		return nil, err
	}
	if err := r.phase(ctx, "deployment.finalize", func(ctx context.Context) error {
		return r.deployment.Finalize(ctx, du)
	}); err != nil {
		return nil, err
	}
	if err := r.phase(ctx, "dependencies.finalize", func(ctx context.Context) error {
		return r.dependencies.Finalize(ctx, du)
	}); err != nil {
		return nil, err
	}

	return &Result{
		ModifiedEntities: du.ModifiedEntities,
		Nodes:            du.Nodes,
		InstanceChanges:  du.InstanceChanges,
	}, nil
}

// phase runs one lifecycle phase under a span.
func (r *Reconciler) phase(ctx context.Context, name string, fn func(context.Context) error) error {
	if r.tracer == nil {
		return fn(ctx)
	}
	phaseCtx, span := r.tracer.StartPhaseSpan(ctx, name)
	defer span.End()
	err := fn(phaseCtx)
	if err != nil {
		telemetry.RecordError(span, err)
	} else {
		telemetry.RecordSuccess(span)
	}
	return err
}

// recordStepMetrics counts the applied steps and instance buckets.
func (r *Reconciler) recordStepMetrics(du *DeploymentUpdate) {
	if r.metrics == nil {
		return
	}
	for _, step := range du.Steps {
		r.metrics.RecordStepApplied(string(step.EntityType), string(step.Action))
	}
	for changeType, bucket := range du.InstanceChanges {
		for range bucket.Affected {
			r.metrics.RecordInstanceChange(string(changeType))
		}
	}
}
