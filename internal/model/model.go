package model

import (
	"slices"
	"strings"
	"time"

	"github.com/google/gopacket/layers"
)

// ProtocolKind is the closed set of transport protocols the detectors reason about.
type ProtocolKind uint8

const (
	ProtocolTCP ProtocolKind = iota
	ProtocolUDP
	ProtocolICMP
	ProtocolOther
)

// Protocol is a tagged variant: one of TCP, UDP, ICMP, or Other carrying the raw name.
type Protocol struct {
	Kind ProtocolKind
	Raw  string // only meaningful for ProtocolOther
}

var (
	TCP  = Protocol{Kind: ProtocolTCP}
	UDP  = Protocol{Kind: ProtocolUDP}
	ICMP = Protocol{Kind: ProtocolICMP}
)

// Other returns the variant for an unrecognized protocol name.
func Other(raw string) Protocol {
	return Protocol{Kind: ProtocolOther, Raw: raw}
}

// ParseProtocol maps a protocol name onto the closed set. Unknown names are kept as Other.
func ParseProtocol(s string) Protocol {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TCP":
		return TCP
	case "UDP":
		return UDP
	case "ICMP":
		return ICMP
	default:
		return Other(strings.TrimSpace(s))
	}
}

// String returns the canonical protocol name.
func (p Protocol) String() string {
	switch p.Kind {
	case ProtocolTCP:
		return "TCP"
	case ProtocolUDP:
		return "UDP"
	case ProtocolICMP:
		return "ICMP"
	case ProtocolOther:
		return p.Raw
	}
	panic("model: unknown protocol kind")
}

// UsesPorts reports whether the protocol has port semantics.
// The second result is false for Other, where nothing is known.
func (p Protocol) UsesPorts() (uses bool, known bool) {
	switch p.Kind {
	case ProtocolTCP, ProtocolUDP:
		return true, true
	case ProtocolICMP:
		return false, true
	case ProtocolOther:
		return false, false
	}
	panic("model: unknown protocol kind")
}

// IPProtocol returns the IANA protocol number. Other maps to 0 (reserved).
func (p Protocol) IPProtocol() layers.IPProtocol {
	switch p.Kind {
	case ProtocolTCP:
		return layers.IPProtocolTCP
	case ProtocolUDP:
		return layers.IPProtocolUDP
	case ProtocolICMP:
		return layers.IPProtocolICMPv4
	case ProtocolOther:
		return 0
	}
	panic("model: unknown protocol kind")
}

func (p Protocol) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Protocol) UnmarshalText(b []byte) error {
	*p = ParseProtocol(string(b))
	return nil
}

// RuleID identifies a rule of the rule engine.
type RuleID string

// PacketRecord holds the metadata of one observed packet plus the verdicts attached to it.
type PacketRecord struct {
	Timestamp   time.Time `json:"timestamp"`
	SrcIP       string    `json:"src_ip"`
	DstIP       string    `json:"dst_ip"`
	Protocol    Protocol  `json:"protocol"`
	Port        int       `json:"port"`
	PayloadSize int       `json:"payload_size"`
	// IsMalicious is the ground-truth label, nil for production captures.
	// Detectors never read it.
	IsMalicious *bool `json:"is_malicious,omitempty"`

	DetectedAnomaly bool     `json:"detected_anomaly"`
	RuleHits        []RuleID `json:"rule_hits,omitempty"`
	MLScore         float64  `json:"ml_score"`
	MLDetected      bool     `json:"ml_detected"`
}

// Labeled reports the ground-truth label, false when unlabeled.
func (r *PacketRecord) Labeled() bool {
	return r.IsMalicious != nil && *r.IsMalicious
}

// Clone returns a deep copy of the record.
func (r PacketRecord) Clone() PacketRecord {
	if r.IsMalicious != nil {
		v := *r.IsMalicious
		r.IsMalicious = &v
	}
	r.RuleHits = slices.Clone(r.RuleHits)
	return r
}

// CloneRecords deep-copies a record slice so callers never alias a cached batch.
func CloneRecords(records []PacketRecord) []PacketRecord {
	out := make([]PacketRecord, len(records))
	for i := range records {
		out[i] = records[i].Clone()
	}
	return out
}

// AlertType tags which detector(s) flagged a record.
type AlertType string

const (
	AlertRule      AlertType = "rule"
	AlertML        AlertType = "ML"
	AlertRuleAndML AlertType = "rule+ML"
)

// AlertRecord is the read-only view handed to alert consumers.
type AlertRecord struct {
	SrcIP       string    `json:"src_ip"`
	Timestamp   string    `json:"timestamp"`
	Type        AlertType `json:"type"`
	Protocol    string    `json:"protocol"`
	Port        int       `json:"port"`
	PayloadSize int       `json:"payload_size"`
	IsMalicious bool      `json:"is_malicious"`
	RuleHits    []RuleID  `json:"rule_hits,omitempty"`
	MLScore     float64   `json:"ml_score"`
}

// OutlierStatus tells whether the statistical detector produced verdicts.
type OutlierStatus string

const (
	OutlierScored   OutlierStatus = "scored"
	OutlierDegraded OutlierStatus = "degraded"
)

// OutlierOutcome is the capability result of one outlier-detector run.
type OutlierOutcome struct {
	Status    OutlierStatus `json:"status"`
	Reason    string        `json:"reason,omitempty"`
	Threshold float64       `json:"threshold"`
	Flagged   int           `json:"flagged"`
	Err       error         `json:"-"`
}

// Available reports whether ML verdicts in the batch are meaningful.
func (o OutlierOutcome) Available() bool {
	return o.Status == OutlierScored
}

// Batch is one fully processed source: parsed, classified and scored.
type Batch struct {
	SourceID   string         `json:"source_id"`
	Records    []PacketRecord `json:"records"`
	Outlier    OutlierOutcome `json:"outlier"`
	Skipped    int            `json:"skipped_rows"`
	ComputedAt time.Time      `json:"computed_at"`
}

// BatchSummary holds the headline numbers of a batch.
type BatchSummary struct {
	Records     int            `json:"records"`
	RuleFlagged int            `json:"rule_flagged"`
	MLFlagged   int            `json:"ml_flagged"`
	BothFlagged int            `json:"both_flagged"`
	Labeled     int            `json:"labeled_malicious"`
	RuleHits    map[RuleID]int `json:"rule_hits"`
}

// Summary counts verdicts across the batch.
func (b *Batch) Summary() BatchSummary {
	s := BatchSummary{Records: len(b.Records), RuleHits: make(map[RuleID]int)}
	for i := range b.Records {
		r := &b.Records[i]
		if r.DetectedAnomaly {
			s.RuleFlagged++
		}
		if r.MLDetected {
			s.MLFlagged++
		}
		if r.DetectedAnomaly && r.MLDetected {
			s.BothFlagged++
		}
		if r.Labeled() {
			s.Labeled++
		}
		for _, id := range r.RuleHits {
			s.RuleHits[id]++
		}
	}
	return s
}
