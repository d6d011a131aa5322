package pipeline

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"building-monitor/internal/classifier"
	"building-monitor/internal/forest"
	"building-monitor/internal/metrics"
	"building-monitor/internal/models"
	"building-monitor/internal/simulator"
)

// thresholdModel считает выбросом температуру выше 30
type thresholdModel struct{}

func (thresholdModel) Predict(x []float64) (forest.Verdict, error) {
	if x[0] > 30 {
		return forest.Outlier, nil
	}
	return forest.Inlier, nil
}

// gateModel задерживает классификацию нормальных показаний до release
type gateModel struct {
	entered chan struct{}
	release chan struct{}
}

func (g gateModel) Predict(x []float64) (forest.Verdict, error) {
	if x[0] > 30 {
		return forest.Outlier, nil
	}
	g.entered <- struct{}{}
	<-g.release
	return forest.Inlier, nil
}

type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type captureSink struct {
	mu       sync.Mutex
	readings []models.Reading
}

func (s *captureSink) Publish(r models.Reading) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readings = append(s.readings, r)
	return true
}

func payload(temp, hum, pres, vib float64) map[string]any {
	return map[string]any{
		"temperature": temp,
		"humidity":    hum,
		"pressure":    pres,
		"vibration":   vib,
	}
}

func newMonitor(t *testing.T, opts ...Option) (*Monitor, *metrics.Metrics) {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	opts = append([]Option{WithRecorder(m)}, opts...)
	return New(classifier.New(thresholdModel{}, nil), opts...), m
}

func TestIngestAcceptsReading(t *testing.T) {
	clock := &fixedClock{t: time.UnixMilli(1_700_000_000_000)}
	mon, _ := newMonitor(t, WithClock(clock.Now))

	out := mon.Ingest(map[string]any{
		"temperature": 22.0, "humidity": 50.0, "pressure": 1010.0, "vibration": 1.0,
		"timestamp": 5, // клиентская метка игнорируется
	})

	require.True(t, out.OK())
	assert.False(t, out.IsAnomaly)
	assert.Equal(t, MessageProcessed, out.Message)
	assert.Equal(t, models.Reading{
		Timestamp:   1_700_000_000_000,
		Temperature: 22,
		Humidity:    50,
		Pressure:    1010,
		Vibration:   1,
		Status:      "Normal",
	}, out.Reading)
	assert.Equal(t, []models.Reading{out.Reading}, mon.Snapshot().RecentData)
}

func TestHistoryBound(t *testing.T) {
	const capacity = 10
	clock := &fixedClock{}
	mon, _ := newMonitor(t, WithHistorySize(capacity), WithClock(clock.Now))

	for i := 0; i < 35; i++ {
		clock.Set(time.UnixMilli(int64(1000 + i)))
		require.True(t, mon.Ingest(payload(20+float64(i)/100, 50, 1010, 1)).OK())
	}

	snap := mon.Snapshot().RecentData
	require.Len(t, snap, capacity)
	for i, r := range snap {
		assert.Equal(t, int64(1025+i), r.Timestamp)
	}
}

func TestValidationRejectsMissingField(t *testing.T) {
	for _, field := range models.FeatureNames {
		t.Run(field, func(t *testing.T) {
			mon, m := newMonitor(t)
			mon.Ingest(payload(38, 90, 985, 8))
			before := mon.Stats()

			raw := payload(38, 90, 985, 8)
			delete(raw, field)
			out := mon.Ingest(raw)

			assert.Equal(t, Rejected, out.Kind)
			assert.ErrorIs(t, out.Err, ErrValidation)
			assert.Equal(t, MessageMissingFields, out.Message)

			after := mon.Stats()
			assert.Equal(t, before.HistoryLength, after.HistoryLength)
			assert.Equal(t, before.ActiveAnomalies, after.ActiveAnomalies)
			assert.Equal(t, before.ReadingsReceived+1, after.ReadingsReceived)
			assert.Equal(t, 2.0, testutil.ToFloat64(m.DataPointsReceived))
			assert.Equal(t, 1.0, testutil.ToFloat64(m.AnomaliesDetected))
		})
	}
}

func TestEmptyPayload(t *testing.T) {
	for name, raw := range map[string]map[string]any{"empty": {}, "nil": nil} {
		t.Run(name, func(t *testing.T) {
			mon, m := newMonitor(t)

			out := mon.Ingest(raw)
			assert.Equal(t, Rejected, out.Kind)
			assert.ErrorIs(t, out.Err, ErrValidation)
			assert.Equal(t, MessageNoData, out.Message)

			stats := mon.Stats()
			assert.Equal(t, uint64(1), stats.ReadingsReceived)
			assert.Zero(t, stats.HistoryLength)
			assert.Zero(t, stats.AnomaliesDetected)
			assert.Zero(t, stats.ActiveAnomalies)
			assert.Equal(t, 1.0, testutil.ToFloat64(m.DataPointsReceived))
			assert.Equal(t, 0.0, testutil.ToFloat64(m.AnomaliesDetected))
		})
	}
}

func TestFailOpenWithoutModel(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	mon := New(classifier.New(nil, nil), WithRecorder(m))

	for _, p := range []map[string]any{payload(22, 50, 1010, 1), payload(38, 90, 985, 8)} {
		out := mon.Ingest(p)
		require.True(t, out.OK())
		assert.False(t, out.IsAnomaly)
		assert.True(t, out.Degraded)
		assert.Equal(t, "Model not loaded", out.Reading.Status)
	}

	stats := mon.Stats()
	assert.Equal(t, 2, stats.HistoryLength)
	assert.Zero(t, stats.ActiveAnomalies)
	assert.False(t, stats.ModelLoaded)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ClassificationDegraded.WithLabelValues("model_not_loaded")))
}

func TestPredictionErrorRecordedAsNormal(t *testing.T) {
	mon, m := newMonitor(t)

	out := mon.Ingest(map[string]any{
		"temperature": "hot", "humidity": 50.0, "pressure": 1010.0, "vibration": 1.0,
	})

	require.True(t, out.OK())
	assert.False(t, out.IsAnomaly)
	assert.True(t, out.Degraded)
	assert.Contains(t, out.Reading.Status, "Prediction error: ")
	assert.Zero(t, out.Reading.Temperature)
	assert.Equal(t, 1, mon.Stats().HistoryLength)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ClassificationDegraded.WithLabelValues("prediction_error")))
}

func TestCountersPerIngest(t *testing.T) {
	mon, m := newMonitor(t)

	inputs := []map[string]any{
		payload(22, 50, 1010, 1),
		payload(38, 90, 985, 8),
		{},
		payload(35, 90, 985, 8),
		{"temperature": 1.0},
	}
	for i, p := range inputs {
		mon.Ingest(p)
		assert.Equal(t, float64(i+1), testutil.ToFloat64(m.DataPointsReceived))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.AnomaliesDetected))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ActiveAnomalies))
	assert.Equal(t, uint64(5), mon.Stats().ReadingsReceived)
	assert.Equal(t, uint64(2), mon.Stats().AnomaliesDetected)
}

func TestFlapClearingSameTimestamp(t *testing.T) {
	clock := &fixedClock{t: time.UnixMilli(1000)}
	mon, m := newMonitor(t, WithClock(clock.Now))

	mon.Ingest(payload(35, 90, 985, 8))
	clock.Set(time.UnixMilli(2000))
	before := mon.ActiveCount()

	a := mon.Ingest(payload(38, 90, 985, 8))
	require.True(t, a.IsAnomaly)
	assert.Equal(t, before+1, mon.ActiveCount())

	b := mon.Ingest(payload(22, 50, 1010, 1))
	require.False(t, b.IsAnomaly)
	assert.Equal(t, a.Reading.Timestamp, b.Reading.Timestamp)

	assert.Equal(t, before, mon.ActiveCount())
	assert.NotContains(t, mon.Snapshot().Anomalies, a.Reading)
	assert.Equal(t, float64(before), testutil.ToFloat64(m.ActiveAnomalies))
	// Счетчик за время работы не откатывается
	assert.Equal(t, 2.0, testutil.ToFloat64(m.AnomaliesDetected))
}

func TestFlapClearingDifferentTimestamp(t *testing.T) {
	clock := &fixedClock{t: time.UnixMilli(1000)}
	mon, _ := newMonitor(t, WithClock(clock.Now))

	a := mon.Ingest(payload(38, 90, 985, 8))
	require.True(t, a.IsAnomaly)

	clock.Set(time.UnixMilli(1001))
	c := mon.Ingest(payload(22, 50, 1010, 1))
	require.False(t, c.IsAnomaly)

	assert.Equal(t, []models.Reading{a.Reading}, mon.Snapshot().Anomalies)
	assert.Equal(t, 1, mon.ActiveCount())
}

func TestConcreteScenarioWithTrainedModel(t *testing.T) {
	f, err := forest.Fit(simulator.NewGenerator(42).Samples(1000), models.FeatureNames, forest.DefaultConfig())
	require.NoError(t, err)

	m := metrics.New(prometheus.NewRegistry())
	mon := New(classifier.New(f, nil), WithRecorder(m))

	assert.False(t, mon.Ingest(payload(22, 50, 1010, 1.0)).IsAnomaly)
	assert.True(t, mon.Ingest(payload(38, 90, 985, 8.0)).IsAnomaly)
	assert.False(t, mon.Ingest(payload(21, 48, 1008, 0.9)).IsAnomaly)

	snap := mon.Snapshot()
	assert.Len(t, snap.RecentData, 3)
	assert.Equal(t, 1, mon.ActiveCount())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AnomaliesDetected))
	assert.Equal(t, uint64(1), mon.Stats().AnomaliesDetected)
}

func TestTimestampsNeverDecrease(t *testing.T) {
	clock := &fixedClock{t: time.UnixMilli(5000)}
	mon, _ := newMonitor(t, WithClock(clock.Now))

	mon.Ingest(payload(22, 50, 1010, 1))
	clock.Set(time.UnixMilli(4000))
	out := mon.Ingest(payload(22, 50, 1010, 1))

	assert.Equal(t, int64(5000), out.Reading.Timestamp)
}

func TestSlowNormalReadingKeepsLaterAnomaly(t *testing.T) {
	clock := &fixedClock{t: time.UnixMilli(1000)}
	gate := gateModel{entered: make(chan struct{}, 1), release: make(chan struct{})}
	mon := New(classifier.New(gate, nil), WithClock(clock.Now))

	done := make(chan Outcome, 1)
	go func() { done <- mon.Ingest(payload(22, 50, 1010, 1)) }()
	<-gate.entered

	clock.Set(time.UnixMilli(1001))
	a := mon.Ingest(payload(38, 90, 985, 8))
	require.True(t, a.IsAnomaly)
	assert.Equal(t, int64(1001), a.Reading.Timestamp)

	clock.Set(time.UnixMilli(1002))
	close(gate.release)
	c := <-done
	require.True(t, c.OK())
	require.False(t, c.IsAnomaly)

	assert.Equal(t, int64(1002), c.Reading.Timestamp)
	assert.Equal(t, 1, mon.ActiveCount())
	assert.Equal(t, []models.Reading{a.Reading}, mon.Snapshot().Anomalies)

	recent := mon.Snapshot().RecentData
	require.Len(t, recent, 2)
	assert.Equal(t, []int64{1001, 1002}, []int64{recent[0].Timestamp, recent[1].Timestamp})
}

func TestInternalErrorLeavesStateUntouched(t *testing.T) {
	mon, m := newMonitor(t)
	mon.Ingest(payload(38, 90, 985, 8))
	before := mon.Snapshot()

	mon.recordHook = func() { panic("boom") }
	out := mon.Ingest(payload(39, 90, 985, 8))
	mon.recordHook = nil

	assert.Equal(t, Failed, out.Kind)
	assert.True(t, errors.Is(out.Err, ErrInternal))
	assert.Equal(t, MessageInternal, out.Message)
	assert.Equal(t, before, mon.Snapshot())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AnomaliesDetected))

	// Блокировка освобождена, монитор продолжает работать
	assert.True(t, mon.Ingest(payload(22, 50, 1010, 1)).OK())
}

func TestSinkReceivesAcceptedReadings(t *testing.T) {
	sink := &captureSink{}
	mon, _ := newMonitor(t, WithSink(sink))

	mon.Ingest(payload(22, 50, 1010, 1))
	mon.Ingest(map[string]any{})
	mon.Ingest(payload(38, 90, 985, 8))

	require.Len(t, sink.readings, 2)
	assert.False(t, sink.readings[0].IsAnomaly)
	assert.True(t, sink.readings[1].IsAnomaly)
}

func TestConcurrentIngestAndSnapshot(t *testing.T) {
	mon, m := newMonitor(t, WithHistorySize(50))

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				temp := 22.0
				if (w+i)%10 == 0 {
					temp = 38
				}
				mon.Ingest(payload(temp, 50, 1010, 1))
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				snap := mon.Snapshot()
				assert.LessOrEqual(t, len(snap.RecentData), 50)
				for _, a := range snap.Anomalies {
					assert.True(t, a.IsAnomaly)
				}
			}
		}()
	}
	wg.Wait()

	stats := mon.Stats()
	assert.Equal(t, uint64(800), stats.ReadingsReceived)
	assert.Equal(t, 50, stats.HistoryLength)
	assert.Equal(t, 800.0, testutil.ToFloat64(m.DataPointsReceived))
	assert.Equal(t, float64(stats.ActiveAnomalies), testutil.ToFloat64(m.ActiveAnomalies))
}
