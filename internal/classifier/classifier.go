package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"go.uber.org/zap"

	"building-monitor/internal/forest"
	"building-monitor/internal/models"
)

const (
	StatusDetected       = "Detected"
	StatusNormal         = "Normal"
	StatusModelNotLoaded = "Model not loaded"
	predictionErrorFmt   = "Prediction error: %v"
)

// ErrModelUnavailable модель не найдена или не загрузилась
var ErrModelUnavailable = errors.New("model unavailable")

// Model контракт обученной модели: вектор признаков -> вердикт
type Model interface {
	Predict(features []float64) (forest.Verdict, error)
}

// Kind вариант результата классификации
type Kind int

const (
	// KindOK модель отработала, вердикт достоверен
	KindOK Kind = iota
	// KindDegraded модель недоступна или упала, показание считается нормальным
	KindDegraded
)

// Result результат классификации одного показания
type Result struct {
	Kind      Kind
	Anomalous bool
	Reason    string
}

// Ok возвращает достоверный вердикт
func Ok(anomalous bool) Result {
	return Result{Kind: KindOK, Anomalous: anomalous}
}

// Degraded возвращает деградированный результат с причиной
func Degraded(reason string) Result {
	return Result{Kind: KindDegraded, Reason: reason}
}

// IsAnomaly вердикт для записи в историю; деградация всегда нормальна
func (r Result) IsAnomaly() bool {
	return r.Kind == KindOK && r.Anomalous
}

// IsDegraded true, если вердикт не получен от модели
func (r Result) IsDegraded() bool {
	return r.Kind == KindDegraded
}

// Status человекочитаемый статус
func (r Result) Status() string {
	if r.Kind == KindDegraded {
		return r.Reason
	}
	if r.Anomalous {
		return StatusDetected
	}
	return StatusNormal
}

// Classifier обертка над обученной моделью. Без состояния кроме модели.
type Classifier struct {
	model  Model
	logger *zap.Logger
}

// New создает классификатор; model == nil включает режим "всегда норма"
func New(model Model, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{model: model, logger: logger}
}

// Load загружает модель из файла. При ошибке возвращает рабочий
// классификатор в деградированном режиме вместе с ошибкой.
func Load(path string, logger *zap.Logger) (*Classifier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	f, err := forest.LoadFile(path)
	if err == nil {
		err = checkFeatures(f.Features)
	}
	if err != nil {
		logger.Warn("ML model not available, anomaly detection disabled",
			zap.String("path", path), zap.Error(err))
		return New(nil, logger), fmt.Errorf("%w: %s: %v", ErrModelUnavailable, path, err)
	}

	logger.Info("ML model loaded",
		zap.String("path", path),
		zap.Int("trees", len(f.Trees)),
		zap.Float64("threshold", f.Threshold))
	return New(f, logger), nil
}

func checkFeatures(got []string) error {
	if len(got) != len(models.FeatureNames) {
		return fmt.Errorf("model trained on %d features, want %d", len(got), len(models.FeatureNames))
	}
	for i, name := range models.FeatureNames {
		if got[i] != name {
			return fmt.Errorf("feature %d is %q, want %q", i, got[i], name)
		}
	}
	return nil
}

// Loaded сообщает, загружена ли модель
func (c *Classifier) Loaded() bool {
	return c.model != nil
}

// Classify классифицирует вектор признаков в фиксированном порядке
func (c *Classifier) Classify(features []float64) (res Result) {
	if c.model == nil {
		return Degraded(StatusModelNotLoaded)
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("model panicked during prediction", zap.Any("panic", r))
			res = Degraded(fmt.Sprintf(predictionErrorFmt, r))
		}
	}()

	verdict, err := c.model.Predict(features)
	if err != nil {
		c.logger.Warn("anomaly prediction failed", zap.Error(err))
		return Degraded(fmt.Sprintf(predictionErrorFmt, err))
	}
	return Ok(verdict == forest.Outlier)
}

// ClassifyFields извлекает признаки из сырых полей и классифицирует их.
// Возвращает также извлеченный вектор; неразобранные значения равны 0.
func (c *Classifier) ClassifyFields(fields map[string]any) (Result, []float64) {
	features, err := ExtractFeatures(fields)
	if c.model == nil {
		return Degraded(StatusModelNotLoaded), features
	}
	if err != nil {
		c.logger.Warn("anomaly prediction failed", zap.Error(err))
		return Degraded(fmt.Sprintf(predictionErrorFmt, err)), features
	}
	return c.Classify(features), features
}

// ExtractFeatures собирает вектор признаков в порядке models.FeatureNames
func ExtractFeatures(fields map[string]any) ([]float64, error) {
	features := make([]float64, len(models.FeatureNames))
	var errs []error
	for i, name := range models.FeatureNames {
		v, err := toFloat(fields[name])
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		features[i] = v
	}
	return features, errors.Join(errs...)
}

func toFloat(v any) (float64, error) {
	var f float64
	switch x := v.(type) {
	case nil:
		return 0, errors.New("value is missing")
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int32:
		f = float64(x)
	case int64:
		f = float64(x)
	case bool:
		if x {
			f = 1
		}
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return 0, fmt.Errorf("could not convert %q to float", x.String())
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0, fmt.Errorf("could not convert %q to float", x)
		}
		f = parsed
	default:
		return 0, fmt.Errorf("unsupported value type %T", v)
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("non-finite value %v", f)
	}
	return f, nil
}
