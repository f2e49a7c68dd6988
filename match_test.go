package ritmo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newMatchParams() *Params[uint] {
	params := newTestParams()
	params.Mode = ModeMatch
	params.Match.ReferenceStream = sensorA
	return params
}

func Test_Buffer_matchTuples(t *testing.T) {
	assert := assert.New(t)

	buf := New[*measurement](newMatchParams())

	// sensor A (reference): period 50ms, latency 10ms
	// sensor B: period 50ms, latency 60ms, offset 5ms

	popExpectData(t, buf, 10, 0, 0)

	// with sensor A as the only known source, its samples form singleton
	// tuples
	pushExpectOK(t, buf, sensorA, 60, 50)
	popExpectData(t, buf, 60, 1, 0)

	// samples of sensor B alone cannot be delivered without a reference
	pushExpectOK(t, buf, sensorB, 115, 55)
	popExpectData(t, buf, 115, 0, 0)

	pushExpectOK(t, buf, sensorA, 120, 100)
	res := popExpectData(t, buf, 120, 2, 0)
	assert.Equal(at(55), res.Delivered[0].MeasTime)
	assert.Equal(at(100), res.Delivered[1].MeasTime)

	pushExpectOK(t, buf, sensorB, 165, 105)
	popExpectData(t, buf, 165, 0, 0)

	pushExpectOK(t, buf, sensorA, 170, 150)
	popExpectData(t, buf, 170, 2, 0)

	pushExpectOK(t, buf, sensorB, 215, 155)
	popExpectData(t, buf, 215, 0, 0)

	// a better fitting sample of sensor B is anticipated: the already
	// received pair is held back
	pushExpectOK(t, buf, sensorA, 220, 200)
	popExpectData(t, buf, 220, 0, 0)

	// once the anticipated sample arrives, the closest pair is delivered
	pushExpectOK(t, buf, sensorB, 265, 205)
	res = popExpectData(t, buf, 265, 2, 0)
	assert.Equal(sensorA, res.Delivered[0].SourceID)
	assert.Equal(at(200), res.Delivered[0].MeasTime)
	assert.Equal(sensorB, res.Delivered[1].SourceID)
	assert.Equal(at(205), res.Delivered[1].MeasTime)

	// the overtaken sample of sensor B is discarded with the next pop
	popExpectData(t, buf, 270, 0, 1)
}

func Test_Buffer_matchImpossibleTupleDeletesReference(t *testing.T) {
	assert := assert.New(t)

	buf := New[*measurement](newMatchParams())

	// sensor C is known to the buffer but stops sending samples, so no
	// complete tuple can be formed anymore

	pushExpectOK(t, buf, sensorC, 60, 40)
	popExpectData(t, buf, 60, 0, 0)

	pushExpectOK(t, buf, sensorA, 70, 50)
	res := popExpectData(t, buf, 70, 2, 0)
	assert.Equal(at(40), res.Delivered[0].MeasTime)
	assert.Equal(at(50), res.Delivered[1].MeasTime)

	// no sample of sensor C is queued or anticipated: the reference cannot
	// be matched and has to be dropped to let the matching progress
	pushExpectOK(t, buf, sensorA, 120, 100)
	res = popExpectData(t, buf, 120, 0, 1)
	assert.Equal(sensorA, res.Discarded[0].SourceID)
	assert.Equal(at(100), res.Discarded[0].MeasTime)
}
