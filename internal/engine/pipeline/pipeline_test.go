package pipeline

import (
	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/engine/rules"
	"Go2NetSentinel/internal/model"
	"Go2NetSentinel/internal/source"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const header = "timestamp,src_ip,dst_ip,protocol,port,payload_size,is_malicious\n"

func csvLog(normal int, extra ...string) []byte {
	var sb strings.Builder
	sb.WriteString(header)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < normal; i++ {
		fmt.Fprintf(&sb, "%s,192.168.1.%d,10.0.0.1,TCP,443,%d,False\n",
			base.Add(time.Duration(i)*time.Second).Format(time.RFC3339), i%20+1, 500+(i*13)%400)
	}
	for _, row := range extra {
		sb.WriteString(row + "\n")
	}
	return []byte(sb.String())
}

func newPipeline(t *testing.T) *Pipeline {
	t.Helper()
	d := config.Default().Detection
	d.Seed = 5
	p, err := New(d, zap.NewNop())
	require.NoError(t, err)
	return p
}

func TestRun_MergesVerdicts(t *testing.T) {
	data := csvLog(40,
		"2025-03-01T13:00:00Z,6.6.6.6,10.0.0.1,TCP,3,100,True",
		"2025-03-01T13:00:01Z,6.6.6.7,10.0.0.1,TCP,80,50000,True",
	)

	batch, err := newPipeline(t).Run(context.Background(), source.NewMemory("logs", data))
	require.NoError(t, err)
	require.Len(t, batch.Records, 42)
	assert.Equal(t, "logs", batch.SourceID)
	assert.True(t, batch.Outlier.Available())
	assert.False(t, batch.ComputedAt.IsZero())

	assert.Equal(t, []model.RuleID{rules.InvalidPort}, batch.Records[40].RuleHits)
	assert.Equal(t, []model.RuleID{rules.OversizedPayload}, batch.Records[41].RuleHits)

	ml := 0
	for _, r := range batch.Records {
		if r.MLDetected {
			ml++
		}
		assert.NotZero(t, r.MLScore)
	}
	assert.Equal(t, 8, ml) // round(0.2 * 42)
	assert.True(t, batch.Records[41].MLDetected)
}

func TestRun_DegradedDetectorKeepsRuleVerdicts(t *testing.T) {
	data := csvLog(3, "2025-03-01T13:00:00Z,6.6.6.6,10.0.0.1,ICMP,80,100,")

	batch, err := newPipeline(t).Run(context.Background(), source.NewMemory("small", data))
	require.NoError(t, err)
	assert.Equal(t, model.OutlierDegraded, batch.Outlier.Status)
	assert.ErrorIs(t, batch.Outlier.Err, model.ErrDetectorUnavailable)
	assert.True(t, batch.Records[3].DetectedAnomaly)
	for _, r := range batch.Records {
		assert.False(t, r.MLDetected)
	}
}

func TestRun_EmptyAndMissingSources(t *testing.T) {
	p := newPipeline(t)

	batch, err := p.Run(context.Background(), source.NewMemory("empty", nil))
	require.NoError(t, err)
	assert.Empty(t, batch.Records)

	missing := source.NewMemory("gone", nil)
	missing.Remove()
	_, err = p.Run(context.Background(), missing)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestRun_CountsSkippedRows(t *testing.T) {
	batch, err := newPipeline(t).Run(context.Background(), source.NewMemory("bad", csvLog(12, "garbage,row")))
	require.NoError(t, err)
	assert.Len(t, batch.Records, 12)
	assert.Equal(t, 1, batch.Skipped)
}

func TestNew_UnknownRule(t *testing.T) {
	d := config.Default().Detection
	d.RuleSet = []string{"nope"}
	_, err := New(d, zap.NewNop())
	assert.Error(t, err)
}
