package batch

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/sells-group/profilecore/internal/errtax"
)

// RunStatus is the top-level state of a batch run (§4.11 shutdown).
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCancelled RunStatus = "cancelled"
	RunStatusError     RunStatus = "error"
	RunStatusComplete  RunStatus = "complete"
)

// LatencyPercentiles is the p50-p99 table spec §4.11's status payload
// requires, reported both for whole-company processing time and per stage.
type LatencyPercentiles struct {
	P50 float64 `json:"p50"`
	P60 float64 `json:"p60"`
	P70 float64 `json:"p70"`
	P80 float64 `json:"p80"`
	P90 float64 `json:"p90"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// percentiles computes the fixed p50-p99 table over a set of observed
// durations (milliseconds). Empty input yields a zero-valued table.
func percentiles(samples []float64) LatencyPercentiles {
	if len(samples) == 0 {
		return LatencyPercentiles{}
	}
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)

	at := func(p float64) float64 {
		// Nearest rank: the ceil(p*n)-th smallest sample.
		idx := int(math.Ceil(p*float64(len(sorted)))) - 1
		if idx < 0 {
			idx = 0
		}
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		return sorted[idx]
	}
	return LatencyPercentiles{
		P50: at(0.50), P60: at(0.60), P70: at(0.70), P80: at(0.80),
		P90: at(0.90), P95: at(0.95), P99: at(0.99),
	}
}

// StageFunnel tracks how many companies entered and passed each ordered
// stage (probe -> main_page -> subpages), plus that stage's own latencies.
type StageFunnel struct {
	ProbeEntered   int64 `json:"probe_entered"`
	ProbePassed    int64 `json:"probe_passed"`
	MainEntered    int64 `json:"main_page_entered"`
	MainPassed     int64 `json:"main_page_passed"`
	SubpageEntered int64 `json:"subpages_entered"`
	SubpagePassed  int64 `json:"subpages_passed"`

	probeMS   []float64
	mainMS    []float64
	subpageMS []float64
}

// SubpagePanel is the link funnel + zero-links count the status payload
// reports (spec §4.11).
type SubpagePanel struct {
	LinksInHTML        int64 `json:"links_in_html"`
	LinksAfterFilter   int64 `json:"links_after_filter"`
	LinksSelected      int64 `json:"links_selected"`
	SubpagesAttempted  int64 `json:"subpages_attempted"`
	SubpagesOK         int64 `json:"subpages_ok"`
	ZeroLinksCompanies int64 `json:"zero_links_companies"`
}

// InstanceStats is one instance's contribution to the rolled-up payload.
type InstanceStats struct {
	InstanceID int   `json:"instance_id"`
	Processed  int64 `json:"processed"`
	Success    int64 `json:"success"`
	Errors     int64 `json:"errors"`
	InProgress int64 `json:"in_progress"`
}

// Status is the full status payload spec §4.11 describes.
type Status struct {
	State RunStatus `json:"state"`

	Total          int64 `json:"total"`
	Processed      int64 `json:"processed"`
	Success        int64 `json:"success"`
	Errors         int64 `json:"errors"`
	InProgress     int64 `json:"in_progress"`
	PeakInProgress int64 `json:"peak_in_progress"`

	ThroughputPerMinute float64       `json:"throughput_per_minute"`
	ETA                 time.Duration `json:"eta_ns"`

	ProcessingTimePercentiles LatencyPercentiles `json:"processing_time_percentiles"`

	ErrorCategoryBreakdown map[string]int64             `json:"error_category_breakdown"`
	FailureDiagnosis       map[errtax.DiagnosisBucket]int64 `json:"failure_diagnosis"`

	StageFunnel  StageFunnelSnapshot `json:"stage_funnel"`
	SubpagePanel SubpagePanel        `json:"subpage_pipeline"`

	ProxyStats map[string]any `json:"proxy_stats"`

	LastErrors []string `json:"last_errors"`

	Instances []InstanceStats `json:"instances"`
}

// StageFunnelSnapshot is StageFunnel with percentiles computed, for
// inclusion in a Status snapshot.
type StageFunnelSnapshot struct {
	ProbeEntered   int64              `json:"probe_entered"`
	ProbePassed    int64              `json:"probe_passed"`
	ProbeLatency   LatencyPercentiles `json:"probe_latency_ms"`
	MainEntered    int64              `json:"main_page_entered"`
	MainPassed     int64              `json:"main_page_passed"`
	MainLatency    LatencyPercentiles `json:"main_page_latency_ms"`
	SubpageEntered int64              `json:"subpages_entered"`
	SubpagePassed  int64              `json:"subpages_passed"`
	SubpageLatency LatencyPercentiles `json:"subpages_latency_ms"`
}

// counters is the mutable state one orchestrator run accumulates. All
// fields are guarded by mu; the "one exclusive lock" shared-resource model
// of spec §5 applies here too (the critical section is limited to simple
// arithmetic, never an I/O call).
type counters struct {
	mu sync.Mutex

	total          int64
	processed      int64
	success        int64
	errors         int64
	inProgress     int64
	peakInProgress int64

	startedAt time.Time

	processingMS []float64

	errorCategoryBreakdown map[string]int64
	failureDiagnosis       map[errtax.DiagnosisBucket]int64

	funnel StageFunnel
	panel  SubpagePanel

	lastErrors []string

	perInstance map[int]*InstanceStats
}

func newCounters(total int64, numInstances int) *counters {
	c := &counters{
		total:                  total,
		startedAt:              time.Now(),
		errorCategoryBreakdown: map[string]int64{},
		failureDiagnosis:       map[errtax.DiagnosisBucket]int64{},
		perInstance:            map[int]*InstanceStats{},
	}
	for i := 0; i < numInstances; i++ {
		c.perInstance[i] = &InstanceStats{InstanceID: i}
	}
	return c
}

const lastErrorsCap = 10

func (c *counters) beginCompany(instance int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inProgress++
	if c.inProgress > c.peakInProgress {
		c.peakInProgress = c.inProgress
	}
	c.perInstance[instance].InProgress++
}

func (c *counters) endCompany(instance int, success bool, processingMS float64, failTag errtax.Tag, failMessage string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inProgress--
	c.processed++
	c.processingMS = append(c.processingMS, processingMS)

	inst := c.perInstance[instance]
	inst.InProgress--
	inst.Processed++

	if success {
		c.success++
		inst.Success++
		return
	}

	c.errors++
	inst.Errors++

	if failTag != "" {
		c.errorCategoryBreakdown[string(failTag)]++
		c.failureDiagnosis[errtax.Bucket(failTag)]++
	} else {
		c.errorCategoryBreakdown["other"]++
		c.failureDiagnosis[errtax.BucketOther]++
	}

	if failMessage != "" {
		c.lastErrors = append(c.lastErrors, failMessage)
		if len(c.lastErrors) > lastErrorsCap {
			c.lastErrors = c.lastErrors[len(c.lastErrors)-lastErrorsCap:]
		}
	}
}

func (c *counters) recordFunnel(probeMS, mainMS, subpageMS float64, probeOK, mainOK bool, subpagesAttempted int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.funnel.ProbeEntered++
	c.funnel.probeMS = append(c.funnel.probeMS, probeMS)
	if probeOK {
		c.funnel.ProbePassed++
		c.funnel.MainEntered++
		c.funnel.mainMS = append(c.funnel.mainMS, mainMS)
	}
	if mainOK {
		c.funnel.MainPassed++
		if subpagesAttempted > 0 {
			c.funnel.SubpageEntered++
			c.funnel.subpageMS = append(c.funnel.subpageMS, subpageMS)
		}
	}
}

func (c *counters) recordSubpagePanel(linksInHTML, linksAfterFilter, linksSelected, subpagesAttempted, subpagesOK int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.panel.LinksInHTML += int64(linksInHTML)
	c.panel.LinksAfterFilter += int64(linksAfterFilter)
	c.panel.LinksSelected += int64(linksSelected)
	c.panel.SubpagesAttempted += int64(subpagesAttempted)
	c.panel.SubpagesOK += int64(subpagesOK)
	if linksInHTML == 0 {
		c.panel.ZeroLinksCompanies++
	}
	if subpagesOK > 0 {
		c.funnel.SubpagePassed++
	}
}

// snapshot renders a point-in-time Status. ETA extrapolates from the
// observed throughput; zero throughput yields a zero ETA rather than
// dividing by zero.
func (c *counters) snapshot(state RunStatus) Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := time.Since(c.startedAt)
	throughput := 0.0
	if elapsed > 0 {
		throughput = float64(c.processed) / elapsed.Minutes()
	}

	var eta time.Duration
	remaining := c.total - c.processed
	if throughput > 0 && remaining > 0 {
		eta = time.Duration(float64(remaining)/throughput*60) * time.Second
	}

	errorBreakdown := make(map[string]int64, len(c.errorCategoryBreakdown))
	for k, v := range c.errorCategoryBreakdown {
		errorBreakdown[k] = v
	}
	diagnosis := make(map[errtax.DiagnosisBucket]int64, len(c.failureDiagnosis))
	for k, v := range c.failureDiagnosis {
		diagnosis[k] = v
	}
	instances := make([]InstanceStats, 0, len(c.perInstance))
	for _, v := range c.perInstance {
		instances = append(instances, *v)
	}
	sort.Slice(instances, func(i, j int) bool { return instances[i].InstanceID < instances[j].InstanceID })

	return Status{
		State:                  state,
		Total:                  c.total,
		Processed:              c.processed,
		Success:                c.success,
		Errors:                 c.errors,
		InProgress:             c.inProgress,
		PeakInProgress:         c.peakInProgress,
		ThroughputPerMinute:    throughput,
		ETA:                    eta,
		ProcessingTimePercentiles: percentiles(c.processingMS),
		ErrorCategoryBreakdown: errorBreakdown,
		FailureDiagnosis:       diagnosis,
		StageFunnel: StageFunnelSnapshot{
			ProbeEntered:   c.funnel.ProbeEntered,
			ProbePassed:    c.funnel.ProbePassed,
			ProbeLatency:   percentiles(c.funnel.probeMS),
			MainEntered:    c.funnel.MainEntered,
			MainPassed:     c.funnel.MainPassed,
			MainLatency:    percentiles(c.funnel.mainMS),
			SubpageEntered: c.funnel.SubpageEntered,
			SubpagePassed:  c.funnel.SubpagePassed,
			SubpageLatency: percentiles(c.funnel.subpageMS),
		},
		SubpagePanel: c.panel,
		LastErrors:   append([]string(nil), c.lastErrors...),
		Instances:    instances,
	}
}
