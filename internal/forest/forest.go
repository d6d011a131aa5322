// Package forest реализует Isolation Forest для одноклассового поиска выбросов.
package forest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"sort"
)

// Verdict сырой ответ модели: -1 выброс, 1 норма
type Verdict int

const (
	Outlier Verdict = -1
	Inlier  Verdict = 1
)

// eulerGamma константа Эйлера-Маскерони для средней длины пути
const eulerGamma = 0.5772156649015329

var (
	ErrNotFitted        = errors.New("forest: model is not fitted")
	ErrEmptyTrainingSet = errors.New("forest: empty training set")
	ErrTooFewSamples    = errors.New("forest: at least two training samples required")
	ErrCorruptModel     = errors.New("forest: corrupt model")
	ErrFeatureCount     = errors.New("forest: unexpected feature count")
	ErrNonFinite        = errors.New("forest: non-finite feature value")
)

// Config параметры обучения
type Config struct {
	Trees         int
	SampleSize    int
	Contamination float64
	Seed          int64
}

// DefaultConfig возвращает параметры по умолчанию
func DefaultConfig() Config {
	return Config{
		Trees:         100,
		SampleSize:    256,
		Contamination: 0.01,
		Seed:          42,
	}
}

// node узел дерева изоляции. Лист, если Left == nil.
type node struct {
	Feature int     `json:"f,omitempty"`
	Split   float64 `json:"s,omitempty"`
	Size    int     `json:"n,omitempty"`
	Left    *node   `json:"l,omitempty"`
	Right   *node   `json:"r,omitempty"`
}

// Forest обученный ансамбль деревьев изоляции
type Forest struct {
	Features   []string `json:"features"`
	SampleSize int      `json:"sample_size"`
	Threshold  float64  `json:"threshold"`
	Trees      []*node  `json:"trees"`
}

// Fit обучает лес на выборке "нормальных" наблюдений
func Fit(samples [][]float64, features []string, cfg Config) (*Forest, error) {
	if len(samples) == 0 {
		return nil, ErrEmptyTrainingSet
	}
	if cfg.Trees < 1 {
		return nil, fmt.Errorf("forest: trees must be positive, got %d", cfg.Trees)
	}
	if cfg.Contamination < 0 || cfg.Contamination > 0.5 {
		return nil, fmt.Errorf("forest: contamination must be in [0, 0.5], got %g", cfg.Contamination)
	}
	for i, row := range samples {
		if err := checkRow(row, len(features)); err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
	}
	// с одним образцом средняя длина пути равна нулю и оценка не определена
	if len(samples) < 2 {
		return nil, ErrTooFewSamples
	}

	psi := cfg.SampleSize
	if psi < 2 || psi > len(samples) {
		psi = len(samples)
	}
	limit := int(math.Ceil(math.Log2(float64(max(psi, 2)))))

	rng := rand.New(rand.NewSource(cfg.Seed))
	f := &Forest{
		Features:   append([]string(nil), features...),
		SampleSize: psi,
		Trees:      make([]*node, 0, cfg.Trees),
	}

	for i := 0; i < cfg.Trees; i++ {
		idx := rng.Perm(len(samples))[:psi]
		rows := make([][]float64, psi)
		for j, k := range idx {
			rows[j] = samples[k]
		}
		f.Trees = append(f.Trees, buildTree(rows, 0, limit, rng))
	}

	// Порог: квантиль (1 - contamination) оценок обучающей выборки
	scores := make([]float64, len(samples))
	for i, row := range samples {
		scores[i] = f.score(row)
	}
	sort.Float64s(scores)
	pos := int(math.Ceil((1-cfg.Contamination)*float64(len(scores)))) - 1
	pos = min(max(pos, 0), len(scores)-1)
	f.Threshold = scores[pos]

	return f, nil
}

func buildTree(rows [][]float64, depth, limit int, rng *rand.Rand) *node {
	if depth >= limit || len(rows) <= 1 {
		return &node{Size: len(rows)}
	}

	for _, feature := range rng.Perm(len(rows[0])) {
		lo, hi := rows[0][feature], rows[0][feature]
		for _, row := range rows[1:] {
			lo = math.Min(lo, row[feature])
			hi = math.Max(hi, row[feature])
		}
		if hi <= lo {
			continue
		}

		split := lo + rng.Float64()*(hi-lo)
		var left, right [][]float64
		for _, row := range rows {
			if row[feature] < split {
				left = append(left, row)
			} else {
				right = append(right, row)
			}
		}
		return &node{
			Feature: feature,
			Split:   split,
			Left:    buildTree(left, depth+1, limit, rng),
			Right:   buildTree(right, depth+1, limit, rng),
		}
	}

	// Все строки совпадают, делить нечего
	return &node{Size: len(rows)}
}

// averagePath средняя длина пути неуспешного поиска в BST из n элементов
func averagePath(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
}

func pathLength(n *node, x []float64, depth int) float64 {
	for n.Left != nil {
		if x[n.Feature] < n.Split {
			n = n.Left
		} else {
			n = n.Right
		}
		depth++
	}
	return float64(depth) + averagePath(n.Size)
}

func (f *Forest) score(x []float64) float64 {
	var total float64
	for _, t := range f.Trees {
		total += pathLength(t, x, 0)
	}
	mean := total / float64(len(f.Trees))
	return math.Pow(2, -mean/averagePath(f.SampleSize))
}

// Score возвращает оценку аномальности в (0, 1]; больше - подозрительнее
func (f *Forest) Score(x []float64) (float64, error) {
	if f == nil || len(f.Trees) == 0 {
		return 0, ErrNotFitted
	}
	if err := checkRow(x, len(f.Features)); err != nil {
		return 0, err
	}
	return f.score(x), nil
}

// Predict возвращает Outlier, если оценка выше порога обучения
func (f *Forest) Predict(x []float64) (Verdict, error) {
	s, err := f.Score(x)
	if err != nil {
		return Inlier, err
	}
	if s > f.Threshold {
		return Outlier, nil
	}
	return Inlier, nil
}

func checkRow(x []float64, want int) error {
	if len(x) != want {
		return fmt.Errorf("%w: got %d, want %d", ErrFeatureCount, len(x), want)
	}
	for i, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: feature %d", ErrNonFinite, i)
		}
	}
	return nil
}

// Save сериализует модель в JSON
func (f *Forest) Save(w io.Writer) error {
	if f == nil || len(f.Trees) == 0 {
		return ErrNotFitted
	}
	return json.NewEncoder(w).Encode(f)
}

// SaveFile записывает модель в файл
func (f *Forest) SaveFile(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create model file: %w", err)
	}
	if err := f.Save(file); err != nil {
		file.Close()
		return fmt.Errorf("failed to write model: %w", err)
	}
	return file.Close()
}

// Load читает модель из JSON
func Load(r io.Reader) (*Forest, error) {
	var f Forest
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to decode model: %w", err)
	}
	if len(f.Trees) == 0 || f.SampleSize < 1 || len(f.Features) == 0 {
		return nil, ErrNotFitted
	}
	if f.SampleSize < 2 {
		return nil, fmt.Errorf("%w: sample size %d", ErrCorruptModel, f.SampleSize)
	}
	for i, t := range f.Trees {
		if t == nil {
			return nil, fmt.Errorf("forest: tree %d is empty", i)
		}
		if err := checkNode(t, len(f.Features)); err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
	}
	return &f, nil
}

// checkNode проверяет индексы признаков и полноту ветвлений поддерева
func checkNode(n *node, features int) error {
	if n.Left == nil && n.Right == nil {
		if n.Size < 0 {
			return fmt.Errorf("%w: negative leaf size %d", ErrCorruptModel, n.Size)
		}
		return nil
	}
	if n.Left == nil || n.Right == nil {
		return fmt.Errorf("%w: split node with a single child", ErrCorruptModel)
	}
	if n.Feature < 0 || n.Feature >= features {
		return fmt.Errorf("%w: feature index %d out of range [0, %d)", ErrCorruptModel, n.Feature, features)
	}
	if err := checkNode(n.Left, features); err != nil {
		return err
	}
	return checkNode(n.Right, features)
}

// LoadFile читает модель из файла
func LoadFile(path string) (*Forest, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return Load(file)
}
