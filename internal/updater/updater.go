// Package updater rolls new workspace images onto running fleets without
// interrupting live agent work. A workspace is only restarted onto the new
// image when its daemon can be proven idle; everything else gets the image
// staged for its next boot.
package updater

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/perigee-io/wco/internal/backend"
	"github.com/perigee-io/wco/internal/core"
	"github.com/perigee-io/wco/internal/observability"
)

const (
	DefaultBatchSize  = 5
	DefaultBatchDelay = time.Second
)

// Store is the slice of workspace persistence the updater needs.
type Store interface {
	FindByID(ctx context.Context, id string) (*core.Workspace, error)
	FindByUserID(ctx context.Context, userID string) ([]*core.Workspace, error)
	FindAll(ctx context.Context) ([]*core.Workspace, error)
}

// Target selects the workspaces a fleet update applies to. An empty target
// means the whole fleet.
type Target struct {
	WorkspaceIDs []string
	UserIDs      []string
}

// Options control one update pass.
type Options struct {
	// Force updates and restarts even when agent activity cannot be ruled
	// out.
	Force bool
	// SkipRestart stages the image but leaves the machine on its current
	// one until the next boot.
	SkipRestart bool
}

type Updater struct {
	store    Store
	registry *backend.Registry
	log      *zap.Logger

	batchSize  int
	batchDelay time.Duration
	sleep      func(ctx context.Context, d time.Duration)
}

func New(store Store, registry *backend.Registry, log *zap.Logger) *Updater {
	return &Updater{
		store:      store,
		registry:   registry,
		log:        log,
		batchSize:  DefaultBatchSize,
		batchDelay: DefaultBatchDelay,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func result(r core.UpdateResult) core.UpdateResult {
	observability.UpdateResultTotal.WithLabelValues(string(r.Result)).Inc()
	return r
}

// UpdateImage applies one image update to one workspace, returning the
// decision taken. Failures are folded into the result rather than returned
// so fleet rollups always get one entry per workspace.
func (u *Updater) UpdateImage(ctx context.Context, ws *core.Workspace, image string, opts Options) core.UpdateResult {
	res := core.UpdateResult{WorkspaceID: ws.ID}

	b, err := u.registry.Get(ws.ComputeProvider)
	if err != nil {
		res.Result = core.UpdateError
		res.Error = err.Error()
		return result(res)
	}
	imageUpdater, ok := b.(backend.ImageUpdater)
	if !ok {
		res.Result = core.UpdateNotSupported
		return result(res)
	}

	state := core.MachineUnknown
	if reader, ok := b.(backend.MachineStateReader); ok {
		state, err = reader.MachineState(ctx, ws)
		if err != nil {
			res.Result = core.UpdateError
			res.Error = fmt.Sprintf("read machine state: %v", err)
			return result(res)
		}
	}
	res.MachineState = state

	switch state {
	case core.MachineStarted:
		// fall through to the idle check below
	case core.MachineStopped, core.MachineSuspended:
		if err := imageUpdater.UpdateMachineImage(ctx, ws, image); err != nil {
			res.Result = core.UpdateError
			res.Error = err.Error()
			return result(res)
		}
		res.Result = core.UpdatePendingRestart
		return result(res)
	default:
		res.Result = core.UpdateSkippedNotRunning
		return result(res)
	}

	if !opts.Force {
		inspector, ok := b.(backend.AgentInspector)
		if !ok {
			// Idleness cannot be proven, so a live restart is not safe.
			res.Result = core.UpdateSkippedActiveAgents
			return result(res)
		}
		activity, err := inspector.CheckActiveAgents(ctx, ws)
		if err != nil {
			res.Result = core.UpdateError
			res.Error = fmt.Sprintf("check agents: %v", err)
			return result(res)
		}
		if activity.HasActiveAgents {
			res.Result = core.UpdateSkippedActiveAgents
			res.AgentCount = activity.AgentCount
			res.Agents = activity.Agents
			return result(res)
		}
	}

	if err := imageUpdater.UpdateMachineImage(ctx, ws, image); err != nil {
		res.Result = core.UpdateError
		res.Error = err.Error()
		return result(res)
	}

	if opts.SkipRestart {
		res.Result = core.UpdatePendingRestart
		return result(res)
	}
	if err := b.Restart(ctx, ws); err != nil {
		res.Result = core.UpdateError
		res.Error = fmt.Sprintf("restart onto new image: %v", err)
		return result(res)
	}

	u.log.Info("workspace updated",
		zap.String("workspace_id", ws.ID),
		zap.String("image", image))
	res.Result = core.UpdateApplied
	return result(res)
}

// resolveTargets expands a Target into concrete workspaces, dropping any
// whose provider cannot update images.
func (u *Updater) resolveTargets(ctx context.Context, target Target) ([]*core.Workspace, error) {
	var selected []*core.Workspace
	switch {
	case len(target.WorkspaceIDs) > 0:
		for _, id := range target.WorkspaceIDs {
			ws, err := u.store.FindByID(ctx, id)
			if err != nil {
				return nil, err
			}
			selected = append(selected, ws)
		}
	case len(target.UserIDs) > 0:
		for _, userID := range target.UserIDs {
			owned, err := u.store.FindByUserID(ctx, userID)
			if err != nil {
				return nil, err
			}
			selected = append(selected, owned...)
		}
	default:
		all, err := u.store.FindAll(ctx)
		if err != nil {
			return nil, err
		}
		selected = all
	}

	capable := selected[:0:0]
	for _, ws := range selected {
		b, err := u.registry.Get(ws.ComputeProvider)
		if err != nil {
			continue
		}
		if _, ok := b.(backend.ImageUpdater); ok {
			capable = append(capable, ws)
		}
	}
	return capable, nil
}

// UpdateFleet rolls the image across the targeted workspaces. Workspaces
// are processed in fixed-size concurrent batches with a pause between
// batches so a bad image cannot take the whole fleet down at once.
func (u *Updater) UpdateFleet(ctx context.Context, target Target, image string, opts Options) (*core.FleetUpdateSummary, error) {
	start := time.Now()
	defer func() {
		observability.FleetUpdateDuration.Observe(time.Since(start).Seconds())
	}()

	all, err := u.resolveTargets(ctx, target)
	if err != nil {
		return nil, err
	}

	summary := &core.FleetUpdateSummary{}
	for batchStart := 0; batchStart < len(all); batchStart += u.batchSize {
		if batchStart > 0 {
			u.sleep(ctx, u.batchDelay)
		}
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		end := batchStart + u.batchSize
		if end > len(all) {
			end = len(all)
		}
		batch := all[batchStart:end]

		results := make([]core.UpdateResult, len(batch))
		g, gctx := errgroup.WithContext(ctx)
		for i, ws := range batch {
			g.Go(func() error {
				results[i] = u.UpdateImage(gctx, ws, image, opts)
				return nil
			})
		}
		g.Wait()

		for _, r := range results {
			summary.Add(r)
		}
	}

	u.log.Info("fleet update finished",
		zap.String("image", image),
		zap.Int("total", summary.Total),
		zap.Duration("took", time.Since(start)))
	return summary, nil
}
