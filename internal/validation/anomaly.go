package validation

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// minAnomalySamples is the minimum series length before outlier
// detection produces findings
const minAnomalySamples = 10

// AnomalySeverity grades how far an outlier sits from the series mean
type AnomalySeverity string

const (
	AnomalyModerate AnomalySeverity = "moderate"
	AnomalySevere   AnomalySeverity = "severe"
	AnomalyCritical AnomalySeverity = "critical"
)

// Anomaly flags one statistical outlier in a series
type Anomaly struct {
	Index    int             `json:"index"`
	Value    float64         `json:"value"`
	ZScore   float64         `json:"z_score"`
	Severity AnomalySeverity `json:"severity"`
}

// DetectAnomalies flags values beyond threshold standard deviations
// from the series mean. Series shorter than the minimum sample size
// return no findings.
func (v *Validator) DetectAnomalies(series []float64, threshold float64) []Anomaly {
	if len(series) < minAnomalySamples {
		return nil
	}
	if threshold <= 0 {
		threshold = 3
	}

	mean, std := stat.MeanStdDev(series, nil)
	if std == 0 {
		return nil
	}

	var anomalies []Anomaly
	for i, value := range series {
		z := (value - mean) / std
		if math.Abs(z) < threshold {
			continue
		}
		anomalies = append(anomalies, Anomaly{
			Index:    i,
			Value:    value,
			ZScore:   z,
			Severity: gradeAnomaly(math.Abs(z), threshold),
		})
	}
	return anomalies
}

func gradeAnomaly(absZ, threshold float64) AnomalySeverity {
	switch {
	case absZ >= threshold*2:
		return AnomalyCritical
	case absZ >= threshold*1.5:
		return AnomalySevere
	default:
		return AnomalyModerate
	}
}
