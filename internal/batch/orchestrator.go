package batch

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/profilecore/internal/config"
	"github.com/sells-group/profilecore/internal/errtax"
	"github.com/sells-group/profilecore/internal/model"
	"github.com/sells-group/profilecore/internal/proxypool"
	"github.com/sells-group/profilecore/internal/store"
)

// Orchestrator is the Batch Orchestrator (§4.11): it owns the startup
// sequence (proxy preload + health check, cursor-paged fetch, round-robin
// instance partitioning), a ramp-up worker pool per instance, and the
// buffer-lock-and-flush write path. One Orchestrator runs one batch.
type Orchestrator struct {
	Store      store.Store
	ProxyPool  *proxypool.Pool
	Activities *Activities
	Cfg        config.BatchConfig

	temporalClient client.Client

	mu       sync.Mutex
	counters *counters
	state    RunStatus

	cancel context.CancelFunc
}

// companyBuffer accumulates a single instance's pending result rows under
// an exclusive lock until flush_size is reached, matching §4.11 point 6's
// "under a buffer lock, append the CompanyResult; once buffer reaches
// flush_size, flush" description.
type companyBuffer struct {
	mu   sync.Mutex
	rows []model.CompanyResult
}

func (b *companyBuffer) add(rows []model.CompanyResult) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rows = append(b.rows, rows...)
}

// drain returns and clears the buffer when it has reached flushSize, or
// always when force is true (final drain on shutdown).
func (b *companyBuffer) drain(flushSize int, force bool) []model.CompanyResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !force && len(b.rows) < flushSize {
		return nil
	}
	if len(b.rows) == 0 {
		return nil
	}
	out := b.rows
	b.rows = nil
	return out
}

// Start runs the startup sequence and launches the ramp-up worker pools.
// It blocks until every company has been processed, the context is
// cancelled, or a fatal startup error aborts the run. Status/Cancel may be
// called concurrently from another goroutine while Start is running.
func (o *Orchestrator) Start(ctx context.Context, statuses model.PendingStatusFilter) error {
	runCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.cancel = cancel
	o.state = RunStatusRunning
	o.mu.Unlock()

	if err := o.ProxyPool.Preload(); err != nil {
		o.setState(RunStatusError)
		return eris.Wrap(err, "batch: proxy pool preload")
	}

	health := o.ProxyPool.HealthCheck(runCtx, "https://www.google.com", 10*time.Second)
	if !health.Healthy {
		o.setState(RunStatusError)
		return eris.Errorf("batch: proxy pool unhealthy before start: %v", health.Errors)
	}

	total, err := o.Store.CountPendingScrapeCompanies(runCtx, statuses)
	if err != nil {
		o.setState(RunStatusError)
		return eris.Wrap(err, "batch: count pending companies")
	}

	numInstances := o.Cfg.NumInstances
	if numInstances <= 0 {
		numInstances = 1
	}
	o.counters = newCounters(int64(total), numInstances)

	tc, err := client.Dial(client.Options{
		HostPort:  o.Cfg.TemporalHostPort,
		Namespace: o.Cfg.TemporalNamespace,
	})
	if err != nil {
		o.setState(RunStatusError)
		return eris.Wrap(err, "batch: temporal client dial")
	}
	o.temporalClient = tc
	defer tc.Close()

	w := worker.New(tc, o.Cfg.TemporalTaskQueue, worker.Options{})
	w.RegisterWorkflow(CompanyWorkflow)
	w.RegisterActivity(o.Activities.ScrapeActivity)
	w.RegisterActivity(o.Activities.ChunkActivity)
	w.RegisterActivity(o.Activities.PersistActivity)
	if err := w.Start(); err != nil {
		o.setState(RunStatusError)
		return eris.Wrap(err, "batch: temporal worker start")
	}
	defer w.Stop()

	companies, err := o.fetchAllPending(runCtx, statuses)
	if err != nil {
		o.setState(RunStatusError)
		return eris.Wrap(err, "batch: fetch pending companies")
	}

	partitions := partitionRoundRobin(companies, numInstances)

	flushSize := o.Cfg.FlushSize
	if flushSize <= 0 {
		flushSize = 500
	}

	g, gctx := errgroup.WithContext(runCtx)
	for instanceID, partition := range partitions {
		instanceID, partition := instanceID, partition
		g.Go(func() error {
			return o.runInstance(gctx, instanceID, partition, flushSize)
		})
	}

	runErr := g.Wait()

	select {
	case <-ctx.Done():
		o.setState(RunStatusCancelled)
	default:
		if runErr != nil {
			o.setState(RunStatusError)
		} else {
			o.setState(RunStatusComplete)
		}
	}
	return runErr
}

// fetchAllPending paginates through the pending-scrape queue using a
// cursor on wd_id, honoring the configured page_size and an overall limit
// (0 meaning unbounded).
func (o *Orchestrator) fetchAllPending(ctx context.Context, statuses model.PendingStatusFilter) ([]model.PendingCompany, error) {
	pageSize := o.Cfg.PageSize
	if pageSize <= 0 {
		pageSize = 5000
	}

	var all []model.PendingCompany
	var afterWDID int64

	for {
		remaining := 0
		if o.Cfg.Limit > 0 {
			remaining = o.Cfg.Limit - len(all)
			if remaining <= 0 {
				break
			}
		}

		page, err := o.Store.GetPendingScrapeCompanies(ctx, statuses, afterWDID, pageSize, remaining)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}

		all = append(all, page...)
		afterWDID = page[len(page)-1].WDID

		if len(page) < pageSize {
			break
		}
	}
	return all, nil
}

// partitionRoundRobin splits companies across numInstances in round-robin
// order so that a slow instance only ever holds a fair share of the total.
func partitionRoundRobin(companies []model.PendingCompany, numInstances int) [][]model.PendingCompany {
	partitions := make([][]model.PendingCompany, numInstances)
	for i, c := range companies {
		idx := i % numInstances
		partitions[idx] = append(partitions[idx], c)
	}
	return partitions
}

// runInstance drives one instance's ramp-up worker pool over its
// partition: workers are added in steps of ramp_step_size, pausing
// ramp_step_pause_ms between steps, until workers_per_instance is reached.
func (o *Orchestrator) runInstance(ctx context.Context, instanceID int, partition []model.PendingCompany, flushSize int) error {
	if len(partition) == 0 {
		return nil
	}

	workers := o.Cfg.WorkersPerInstance
	if workers <= 0 {
		workers = 600
	}
	stepSize := o.Cfg.RampStepSize
	if stepSize <= 0 {
		stepSize = workers
	}
	stepPause := time.Duration(o.Cfg.RampStepPauseMS) * time.Millisecond

	buf := &companyBuffer{}
	queue := make(chan model.PendingCompany, workers*2)

	g, gctx := errgroup.WithContext(ctx)

	spawnWorker := func() {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case company, ok := <-queue:
					if !ok {
						return nil
					}
					o.processCompany(gctx, instanceID, company, buf, flushSize)
				}
			}
		})
	}

	for spawned := 0; spawned < workers; {
		step := stepSize
		if remaining := workers - spawned; step > remaining {
			step = remaining
		}
		for i := 0; i < step; i++ {
			spawnWorker()
		}
		spawned += step
		if spawned < workers && stepPause > 0 {
			select {
			case <-time.After(stepPause):
			case <-gctx.Done():
			}
		}
	}

feed:
	for _, c := range partition {
		select {
		case queue <- c:
		case <-gctx.Done():
			break feed
		}
	}
	close(queue)

	err := g.Wait()

	if final := buf.drain(flushSize, true); len(final) > 0 {
		if flushErr := o.Activities.PersistActivity(ctx, final); flushErr != nil {
			zap.L().Error("batch: final flush failed",
				zap.Int("instance", instanceID),
				zap.Error(flushErr),
			)
			if err == nil {
				err = flushErr
			}
		}
	}
	return err
}

// processCompany runs one company through the Temporal workflow, rolls its
// outcome into the shared counters, and appends the result rows to the
// instance's buffer, flushing under lock once flush_size is reached.
func (o *Orchestrator) processCompany(ctx context.Context, instanceID int, company model.PendingCompany, buf *companyBuffer, flushSize int) {
	o.counters.beginCompany(instanceID)

	run, err := o.temporalClient.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		TaskQueue: o.Cfg.TemporalTaskQueue,
	}, CompanyWorkflow, CompanyWorkflowInput{
		Company:     company,
		MaxSubpages: o.Cfg.MaxSubpages,
		MaxRetries:  o.Cfg.MaxRetries,
	})

	var out CompanyWorkflowOutput
	if err == nil {
		err = run.Get(ctx, &out)
	}

	if err != nil {
		zap.L().Error("batch: company workflow failed",
			zap.String("cnpj_basico", company.CNPJBasico),
			zap.Error(err),
		)
		o.counters.endCompany(instanceID, false, 0, errtax.ScrapeError, err.Error())
		buf.add([]model.CompanyResult{{
			CNPJBasico:  company.CNPJBasico,
			DiscoveryID: company.DiscoveryID,
			WebsiteURL:  company.WebsiteURL,
			Success:     false,
			Error:       buildErrorSummary(errtax.ScrapeError, err.Error()),
		}})
		if rows := buf.drain(flushSize, false); len(rows) > 0 {
			if flushErr := o.Activities.PersistActivity(ctx, rows); flushErr != nil {
				zap.L().Error("batch: flush failed",
					zap.Int("instance", instanceID),
					zap.Int("rows", len(rows)),
					zap.Error(flushErr),
				)
			}
		}
		return
	}

	failTag := errtax.Tag("")
	failMessage := ""
	if !out.Success && len(out.Rows) > 0 {
		failMessage = out.Rows[0].Error
	}

	o.counters.endCompany(instanceID, out.Success, out.ProcessingMS, failTag, failMessage)
	o.counters.recordFunnel(
		float64(out.Funnel.ProbeMS), float64(out.Funnel.MainMS), float64(out.Funnel.SubpagesMS),
		out.Funnel.ProbeOK, out.Funnel.MainPageOK, out.Funnel.SubpagesAttempted,
	)
	o.counters.recordSubpagePanel(
		out.Funnel.LinksInHTML, out.Funnel.LinksAfterFilter, out.Funnel.LinksSelected,
		out.Funnel.SubpagesAttempted, out.Funnel.SubpagesOK,
	)
	buf.add(out.Rows)

	if rows := buf.drain(flushSize, false); len(rows) > 0 {
		if flushErr := o.Activities.PersistActivity(ctx, rows); flushErr != nil {
			zap.L().Error("batch: flush failed",
				zap.Int("instance", instanceID),
				zap.Int("rows", len(rows)),
				zap.Error(flushErr),
			)
		}
	}
}

// Cancel stops an in-flight Start, causing it to drain buffers and return
// once the running companies finish.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	cancel := o.cancel
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Status returns a point-in-time snapshot of the run's progress.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	c := o.counters
	state := o.state
	o.mu.Unlock()
	if c == nil {
		return Status{State: RunStatusRunning}
	}
	snap := c.snapshot(state)
	snap.ProxyStats = proxyStatsToMap(o.ProxyPool.SessionStats())
	return snap
}

func (o *Orchestrator) setState(s RunStatus) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

func proxyStatsToMap(stats map[string]model.ProxyStats) map[string]any {
	out := make(map[string]any, len(stats))
	for k, v := range stats {
		out[k] = v
	}
	return out
}
