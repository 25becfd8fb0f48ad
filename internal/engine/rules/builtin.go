package rules

import (
	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/model"
	"fmt"
	"sort"
	"time"
)

// Registration order is the canonical evaluation order.
func init() {
	Register(InvalidPort, func(cfg config.DetectionConfig) (Rule, error) {
		return recordRule{id: InvalidPort, match: invalidPort}, nil
	})
	Register(UnusualHighPort, newUnusualHighPort)
	Register(OversizedPayload, func(cfg config.DetectionConfig) (Rule, error) {
		limit := cfg.OversizedPayloadThreshold
		return recordRule{id: OversizedPayload, match: func(r *model.PacketRecord) bool {
			return r.PayloadSize > limit
		}}, nil
	})
	Register(ProtocolPortMismatch, func(cfg config.DetectionConfig) (Rule, error) {
		return recordRule{id: ProtocolPortMismatch, match: protocolPortMismatch}, nil
	})
	Register(BurstRate, newBurstRate)
}

// invalidPort fires on the reserved low range abused by scans.
func invalidPort(r *model.PacketRecord) bool {
	return r.Port != 0 && r.Port <= 10
}

// protocolPortMismatch fires when port usage contradicts the protocol.
// Unknown protocols never fire.
func protocolPortMismatch(r *model.PacketRecord) bool {
	uses, known := r.Protocol.UsesPorts()
	if !known {
		return false
	}
	if uses {
		return r.Port == 0
	}
	return r.Port != 0
}

func toSet(ports []int) map[int]struct{} {
	set := make(map[int]struct{}, len(ports))
	for _, p := range ports {
		set[p] = struct{}{}
	}
	return set
}

func newUnusualHighPort(cfg config.DetectionConfig) (Rule, error) {
	floor := cfg.EphemeralPortFloor
	blocked := toSet(cfg.BlockedPorts)
	allowTCP := toSet(cfg.AllowedHighPorts.TCP)
	allowUDP := toSet(cfg.AllowedHighPorts.UDP)

	match := func(r *model.PacketRecord) bool {
		if _, ok := blocked[r.Port]; ok && r.Port != 0 {
			return true
		}
		if r.Port < floor {
			return false
		}
		switch r.Protocol.Kind {
		case model.ProtocolTCP:
			_, allowed := allowTCP[r.Port]
			return !allowed
		case model.ProtocolUDP:
			_, allowed := allowUDP[r.Port]
			return !allowed
		case model.ProtocolICMP, model.ProtocolOther:
			// no ephemeral port context; ICMP ports are protocol_port_mismatch territory
			return false
		}
		panic(fmt.Sprintf("rules: unhandled protocol kind %d", r.Protocol.Kind))
	}
	return recordRule{id: UnusualHighPort, match: match}, nil
}

// burstRate flags records of a source IP that sends more than limit records inside window.
type burstRate struct {
	window time.Duration
	limit  int
}

func newBurstRate(cfg config.DetectionConfig) (Rule, error) {
	window := cfg.BurstWindow()
	if window <= 0 {
		return nil, fmt.Errorf("burst_rate_window must be positive")
	}
	if cfg.BurstRateCount < 1 {
		return nil, fmt.Errorf("burst_rate_count must be at least 1")
	}
	return &burstRate{window: window, limit: cfg.BurstRateCount}, nil
}

func (b *burstRate) ID() model.RuleID {
	return BurstRate
}

// Evaluate walks each source's records in timestamp order with a sliding window.
// Every record inside a window holding more than limit records is flagged.
func (b *burstRate) Evaluate(records []model.PacketRecord) []bool {
	verdicts := make([]bool, len(records))

	bySource := make(map[string][]int)
	for i := range records {
		bySource[records[i].SrcIP] = append(bySource[records[i].SrcIP], i)
	}

	for _, idx := range bySource {
		if len(idx) <= b.limit {
			continue
		}
		sort.SliceStable(idx, func(a, c int) bool {
			return records[idx[a]].Timestamp.Before(records[idx[c]].Timestamp)
		})

		start, marked := 0, -1
		for end := range idx {
			for records[idx[end]].Timestamp.Sub(records[idx[start]].Timestamp) >= b.window {
				start++
			}
			if end-start+1 <= b.limit {
				continue
			}
			for k := max(start, marked+1); k <= end; k++ {
				verdicts[idx[k]] = true
			}
			marked = end
		}
	}
	return verdicts
}
