package catalog

import "sort"

// metricWeight is the relative importance given to each metric in the
// composite score used to bucket cars into ranks. Informational only; the
// rules engine never reads Rank.
var metricWeight = map[Metric]float64{
	MetricSpeed:  0.25,
	MetricHP:     0.3,
	MetricAccel:  0.25,
	MetricWeight: 0.1,
	MetricYear:   0.1,
}

// applyRanks computes a normalized weighted score for every car in c and
// buckets cars into S/A/B/C/D ranks by quantile, highest score first.
func applyRanks(c *Catalog) {
	cars := c.Cars()
	if len(cars) == 0 {
		return
	}

	minMax := map[Metric][2]float64{}
	for _, m := range AllMetrics {
		min, max := cars[0].Metrics.Get(m), cars[0].Metrics.Get(m)
		for _, car := range cars[1:] {
			v := car.Metrics.Get(m)
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
		}
		minMax[m] = [2]float64{min, max}
	}

	type scored struct {
		id    string
		score float64
	}
	scores := make([]scored, 0, len(cars))
	for _, car := range cars {
		var total float64
		for _, m := range AllMetrics {
			bounds := minMax[m]
			span := bounds[1] - bounds[0]
			var norm float64
			if span > 0 {
				norm = (car.Metrics.Get(m) - bounds[0]) / span
			}
			if LowerWins(m) {
				norm = 1 - norm
			}
			total += norm * metricWeight[m]
		}
		scores = append(scores, scored{id: car.ID, score: total})
	}

	sort.Slice(scores, func(i, j int) bool { return scores[i].score > scores[j].score })

	n := len(scores)
	for i, s := range scores {
		quantile := float64(i) / float64(n)
		var rank string
		switch {
		case quantile < 0.15:
			rank = "S"
		case quantile < 0.40:
			rank = "A"
		case quantile < 0.70:
			rank = "B"
		case quantile < 0.90:
			rank = "C"
		default:
			rank = "D"
		}
		d := c.byID[s.id]
		d.Rank = rank
		c.byID[s.id] = d
	}
}
