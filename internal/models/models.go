package models

// Имена полей датчиков в порядке признаков модели
const (
	FieldTemperature = "temperature"
	FieldHumidity    = "humidity"
	FieldPressure    = "pressure"
	FieldVibration   = "vibration"
)

// FeatureNames порядок признаков, с которым обучена модель
var FeatureNames = []string{FieldTemperature, FieldHumidity, FieldPressure, FieldVibration}

// Reading одно классифицированное показание датчиков
type Reading struct {
	Timestamp   int64   `json:"timestamp"` // миллисекунды с начала эпохи
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	Pressure    float64 `json:"pressure"`
	Vibration   float64 `json:"vibration"`
	IsAnomaly   bool    `json:"is_anomaly"`
	Status      string  `json:"status"`
}

// Features возвращает вектор признаков в порядке FeatureNames
func (r Reading) Features() []float64 {
	return []float64{r.Temperature, r.Humidity, r.Pressure, r.Vibration}
}

// IngestResponse ответ на POST /sensor_data
type IngestResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	IsAnomaly bool   `json:"is_anomaly"`
}

// BatchResponse ответ на POST /sensor_data/batch
type BatchResponse struct {
	Status    string `json:"status"`
	Total     int    `json:"total"`
	Accepted  int    `json:"accepted"`
	Anomalies int    `json:"anomalies"`
}

// Snapshot текущее состояние истории и активных аномалий
type Snapshot struct {
	RecentData []Reading `json:"recent_data"`
	Anomalies  []Reading `json:"anomalies"`
}

// ErrorResponse ответ при отклонённом или неуспешном запросе
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}
