// Package outlier scores packet records with an isolation forest refit on every batch.
package outlier

import (
	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/engine/iforest"
	"Go2NetSentinel/internal/logging"
	"Go2NetSentinel/internal/metrics"
	"Go2NetSentinel/internal/model"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"
)

// NeutralScore is assigned to every record when the detector cannot run.
const NeutralScore = 0.5

// Detector holds only options; every call fits a fresh forest on the batch it is given.
type Detector struct {
	contamination float64
	minSamples    int
	logScale      bool
	forestOpts    []iforest.Option
	logger        *zap.Logger
}

// New creates a detector from the detection options.
func New(cfg config.DetectionConfig, logger *zap.Logger) *Detector {
	return &Detector{
		contamination: cfg.ContaminationRatio,
		minSamples:    cfg.MinSamples,
		logScale:      cfg.LogScale(),
		forestOpts: []iforest.Option{
			iforest.WithTrees(cfg.NumTrees),
			iforest.WithSampleSize(cfg.SampleSize),
			iforest.WithMaxDepth(cfg.MaxDepth),
			iforest.WithSeed(cfg.Seed),
		},
		logger: logger.With(logging.Component("outlier")),
	}
}

// Score returns a new slice where every record carries MLScore and MLDetected, and the
// outcome of the run. Exactly round(contamination*len(records)) records are flagged when
// the run succeeds. A degraded outcome leaves every record at NeutralScore and unflagged.
func (d *Detector) Score(records []model.PacketRecord) ([]model.PacketRecord, model.OutlierOutcome) {
	out := model.CloneRecords(records)

	if len(records) < d.minSamples {
		return d.degrade(out, fmt.Sprintf("%d records, need at least %d", len(records), d.minSamples))
	}

	features := d.project(records)
	if !varies(features) {
		return d.degrade(out, "no feature variance")
	}

	forest := iforest.New(d.forestOpts...)
	if err := forest.Fit(features); err != nil {
		return d.degrade(out, err.Error())
	}
	scores := forest.ScoreAll(features)

	k := int(math.Round(d.contamination * float64(len(records))))
	rank := make([]int, len(records))
	for i := range rank {
		rank[i] = i
	}
	sort.SliceStable(rank, func(a, b int) bool {
		return scores[rank[a]] > scores[rank[b]]
	})

	threshold := 1.0
	for pos, i := range rank {
		out[i].MLScore = scores[i]
		out[i].MLDetected = pos < k
	}
	if k > 0 {
		threshold = scores[rank[k-1]]
	}

	metrics.MLFlagged.Add(float64(k))
	d.logger.Debug("scored batch",
		zap.Int("records", len(out)),
		zap.Int("flagged", k),
		zap.Float64("threshold", threshold))

	return out, model.OutlierOutcome{Status: model.OutlierScored, Threshold: threshold, Flagged: k}
}

func (d *Detector) degrade(out []model.PacketRecord, reason string) ([]model.PacketRecord, model.OutlierOutcome) {
	for i := range out {
		out[i].MLScore = NeutralScore
		out[i].MLDetected = false
	}
	metrics.DetectorDegraded.Inc()
	d.logger.Info("outlier detector degraded", zap.String("reason", reason), zap.Int("records", len(out)))
	return out, model.OutlierOutcome{
		Status: model.OutlierDegraded,
		Reason: reason,
		Err:    fmt.Errorf("%w: %s", model.ErrDetectorUnavailable, reason),
	}
}

// project maps records onto [port, payload, protocol], each scaled into [0, 1].
// Labels are never part of the projection.
func (d *Detector) project(records []model.PacketRecord) [][]float64 {
	features := make([][]float64, len(records))
	payload := make([]float64, len(records))
	proto := make([]float64, len(records))
	for i := range records {
		r := &records[i]
		p := float64(r.PayloadSize)
		if d.logScale {
			p = math.Log1p(p)
		}
		payload[i] = p
		proto[i] = float64(r.Protocol.IPProtocol())
		features[i] = []float64{float64(r.Port) / 65535, 0, 0}
	}
	minMax(payload)
	minMax(proto)
	for i := range features {
		features[i][1] = payload[i]
		features[i][2] = proto[i]
	}
	return features
}

// minMax rescales xs into [0, 1] in place. A constant column becomes all zeros.
func minMax(xs []float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, x := range xs {
		lo = math.Min(lo, x)
		hi = math.Max(hi, x)
	}
	span := hi - lo
	for i, x := range xs {
		if span == 0 {
			xs[i] = 0
			continue
		}
		xs[i] = (x - lo) / span
	}
}

func varies(features [][]float64) bool {
	if len(features) < 2 {
		return false
	}
	for _, row := range features[1:] {
		for j, v := range row {
			if v != features[0][j] {
				return true
			}
		}
	}
	return false
}
