package ritmo

import (
	"testing"
)

func Test_Buffer_synchronizedSensorsWithBatching(t *testing.T) {
	params := newTestParams()
	params.Mode = ModeBatch

	buf := New[*measurement](params)

	// sensor A: period 50ms, latency 10ms, initial offset 0ms
	// sensor B: period 50ms, latency 20ms, initial offset 5ms

	popExpectData(t, buf, 10, 0, 0)
	pushExpectOK(t, buf, sensorA, 60, 50)
	popExpectData(t, buf, 60, 1, 0)
	pushExpectOK(t, buf, sensorB, 75, 55)
	popExpectData(t, buf, 75, 1, 0)

	pushExpectOK(t, buf, sensorA, 110, 100)
	popExpectData(t, buf, 110, 1, 0)
	pushExpectOK(t, buf, sensorB, 125, 105)
	popExpectData(t, buf, 125, 1, 0)

	pushExpectOK(t, buf, sensorA, 160, 150)
	popExpectData(t, buf, 160, 1, 0)
	pushExpectOK(t, buf, sensorB, 175, 155)
	popExpectData(t, buf, 175, 1, 0)

	// the estimates are now fully initialized and thus considered for the
	// batching decision
	pushExpectOK(t, buf, sensorA, 210, 200)
	popExpectData(t, buf, 210, 0, 0)
	pushExpectOK(t, buf, sensorB, 225, 205)
	popExpectData(t, buf, 225, 2, 0)

	pushExpectOK(t, buf, sensorA, 260, 250)
	popExpectData(t, buf, 260, 0, 0)
	pushExpectOK(t, buf, sensorB, 275, 255)
	popExpectData(t, buf, 275, 2, 0)

	// missing sample of sensor B (receipt time 325ms, meas time 305ms)
	pushExpectOK(t, buf, sensorA, 310, 300)
	popExpectData(t, buf, 310, 0, 0)
	popExpectData(t, buf, 320, 0, 0)

	// the sample of sensor A is forwarded once the latest expected receipt
	// time of the sensor B input is reached
	popExpectData(t, buf, 325, 1, 0)
	popExpectData(t, buf, 330, 0, 0)

	pushExpectOK(t, buf, sensorA, 360, 350)
	popExpectData(t, buf, 360, 0, 0)
	pushExpectOK(t, buf, sensorB, 375, 355)
	popExpectData(t, buf, 375, 2, 0)
}
