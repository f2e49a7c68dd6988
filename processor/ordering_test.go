package processor

import (
	"testing"
	"time"

	"github.com/FerroO2000/ritmo"
	"github.com/FerroO2000/ritmo/connector"
	"github.com/stretchr/testify/assert"
)

var _ TimeStamped[uint] = (*testSample)(nil)

type testSample struct {
	sourceID    uint
	measTime    time.Time
	receiptTime time.Time
}

func newTestSample(sourceID uint, receiptMs, measMs int64) *testSample {
	base := time.Time{}

	return &testSample{
		sourceID:    sourceID,
		measTime:    base.Add(time.Duration(measMs) * time.Millisecond),
		receiptTime: base.Add(time.Duration(receiptMs) * time.Millisecond),
	}
}

func (s *testSample) GetSourceID() uint {
	return s.sourceID
}

func (s *testSample) GetMeasTime() time.Time {
	return s.measTime
}

func (s *testSample) GetReceiptTime() time.Time {
	return s.receiptTime
}

func Test_OrderingStage(t *testing.T) {
	assert := assert.New(t)

	const (
		sensorA uint = 50
		sensorB uint = 100
	)

	connSize := uint32(32)

	inConn := connector.NewRingBuffer[*testSample](connSize)
	outConn := connector.NewRingBuffer[*testSample](connSize)

	cfg := NewOrderingConfig[uint]()
	cfg.MaxTotalWaitTime = 100 * time.Millisecond

	stage := NewOrderingStage[*testSample](inConn, outConn, cfg)

	pipeline := ritmo.NewPipeline()
	pipeline.AddStage(stage)

	assert.NoError(pipeline.Init(t.Context()))

	// sensor B: period 50ms, latency 60ms; initializes its estimates first,
	// then the low-latency sensor A joins and must not overtake it
	inputs := []*testSample{
		newTestSample(sensorB, 110, 50),
		newTestSample(sensorB, 160, 100),
		newTestSample(sensorB, 210, 150),
		newTestSample(sensorA, 220, 210),
		newTestSample(sensorB, 260, 200),
	}

	for _, smp := range inputs {
		assert.NoError(inConn.Write(smp))
	}

	pipeline.Run(t.Context())

	expectedMeasMs := []int64{50, 100, 150, 200, 210}
	for _, measMs := range expectedMeasMs {
		smp, err := outConn.Read(t.Context())
		assert.NoError(err)
		assert.Equal(time.Time{}.Add(time.Duration(measMs)*time.Millisecond), smp.GetMeasTime())
	}

	inConn.Close()
	pipeline.Close()
}
