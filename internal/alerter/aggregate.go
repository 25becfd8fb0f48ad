package alerter

import (
	"Go2NetSentinel/internal/model"
	"sort"
	"time"
)

// TimestampLayout is the ISO-8601 form used in alert records.
const TimestampLayout = "2006-01-02T15:04:05.000000Z07:00"

// Aggregate selects every record flagged by the rule engine or the outlier detector and
// returns them most recent first. Records with equal timestamps keep their input order.
// topN > 0 caps the result after ordering. ML flags are only honoured when the batch's
// outlier outcome says the detector actually ran.
func Aggregate(batch *model.Batch, topN int) []model.AlertRecord {
	alerts := make([]model.AlertRecord, 0)
	if batch == nil {
		return alerts
	}
	mlAvailable := batch.Outlier.Available()

	type flagged struct {
		ts    time.Time
		alert model.AlertRecord
	}
	var selected []flagged
	for i := range batch.Records {
		r := &batch.Records[i]
		ml := mlAvailable && r.MLDetected

		var typ model.AlertType
		switch {
		case r.DetectedAnomaly && ml:
			typ = model.AlertRuleAndML
		case r.DetectedAnomaly:
			typ = model.AlertRule
		case ml:
			typ = model.AlertML
		default:
			continue
		}

		selected = append(selected, flagged{ts: r.Timestamp, alert: toAlert(r, typ)})
	}

	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].ts.After(selected[j].ts)
	})
	if topN > 0 && len(selected) > topN {
		selected = selected[:topN]
	}

	for _, s := range selected {
		alerts = append(alerts, s.alert)
	}
	return alerts
}

func toAlert(r *model.PacketRecord, typ model.AlertType) model.AlertRecord {
	a := model.AlertRecord{
		SrcIP:       r.SrcIP,
		Timestamp:   r.Timestamp.UTC().Format(TimestampLayout),
		Type:        typ,
		Protocol:    r.Protocol.String(),
		Port:        r.Port,
		PayloadSize: r.PayloadSize,
		IsMalicious: r.Labeled(),
		MLScore:     r.MLScore,
	}
	if len(r.RuleHits) > 0 {
		a.RuleHits = append([]model.RuleID(nil), r.RuleHits...)
	}
	return a
}

// CountByType tallies alerts per type.
func CountByType(alerts []model.AlertRecord) map[model.AlertType]int {
	counts := make(map[model.AlertType]int, 3)
	for _, a := range alerts {
		counts[a.Type]++
	}
	return counts
}
