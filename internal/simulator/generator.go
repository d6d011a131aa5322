package simulator

import (
	"math"
	"math/rand"

	"building-monitor/internal/models"
)

// Range диапазон значений датчика: гаусс вокруг середины, обрезанный по границам
type Range struct {
	Min    float64
	Max    float64
	StdDev float64
}

// Sample возвращает одно значение из диапазона
func (r Range) Sample(rng *rand.Rand) float64 {
	mid := (r.Min + r.Max) / 2
	v := rng.NormFloat64()*r.StdDev + mid
	return math.Max(r.Min, math.Min(r.Max, v))
}

// NormalRanges нормальные режимы работы здания (°C, %, hPa, Hz)
var NormalRanges = map[string]Range{
	models.FieldTemperature: {Min: 20.0, Max: 25.0, StdDev: 1.0},
	models.FieldHumidity:    {Min: 40.0, Max: 60.0, StdDev: 5.0},
	models.FieldPressure:    {Min: 1000.0, Max: 1015.0, StdDev: 2.0},
	models.FieldVibration:   {Min: 0.5, Max: 2.0, StdDev: 0.3},
}

// AnomalyRanges перегрев, высокая влажность, падение давления, вибрация
var AnomalyRanges = map[string]Range{
	models.FieldTemperature: {Min: 30.0, Max: 40.0, StdDev: 3.0},
	models.FieldHumidity:    {Min: 80.0, Max: 95.0, StdDev: 5.0},
	models.FieldPressure:    {Min: 980.0, Max: 990.0, StdDev: 3.0},
	models.FieldVibration:   {Min: 5.0, Max: 10.0, StdDev: 2.0},
}

// Generator генератор синтетических показаний
type Generator struct {
	rng *rand.Rand
}

// NewGenerator создает генератор с заданным seed
func NewGenerator(seed int64) *Generator {
	return &Generator{rng: rand.New(rand.NewSource(seed))}
}

// Reading генерирует показание; anomaly выбирает аномальные диапазоны
func (g *Generator) Reading(anomaly bool) map[string]float64 {
	ranges := NormalRanges
	if anomaly {
		ranges = AnomalyRanges
	}

	data := make(map[string]float64, len(models.FeatureNames))
	for _, name := range models.FeatureNames {
		data[name] = ranges[name].Sample(g.rng)
	}
	return data
}

// Samples генерирует n нормальных векторов признаков для обучения
func (g *Generator) Samples(n int) [][]float64 {
	out := make([][]float64, n)
	for i := range out {
		data := g.Reading(false)
		row := make([]float64, len(models.FeatureNames))
		for j, name := range models.FeatureNames {
			row[j] = data[name]
		}
		out[i] = row
	}
	return out
}

// Chance возвращает true с вероятностью p
func (g *Generator) Chance(p float64) bool {
	return g.rng.Float64() < p
}
