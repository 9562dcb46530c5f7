// Package checker decides whether a program's output matches the expected one.
package checker

import (
	"math"
	"strconv"
	"strings"

	"github.com/cutekitek/rankode-judge/internal/repository/models"
)

type Comparator struct {
	// Epsilon is the allowed absolute or relative difference between
	// numeric tokens. Zero requires exact equality.
	Epsilon float64
}

func NewComparator(epsilon float64) *Comparator {
	if epsilon < 0 || math.IsNaN(epsilon) {
		epsilon = 0
	}
	return &Comparator{Epsilon: epsilon}
}

// Compare returns StatusAccepted or StatusWrongAnswer.
func (c *Comparator) Compare(actual, expected string) models.Status {
	actual = strings.TrimSpace(actual)
	expected = strings.TrimSpace(expected)
	if actual == expected {
		return models.StatusAccepted
	}
	if c.numericEqual(actual, expected) {
		return models.StatusAccepted
	}
	return models.StatusWrongAnswer
}

func (c *Comparator) numericEqual(actual, expected string) bool {
	a := strings.Fields(actual)
	e := strings.Fields(expected)
	if len(a) != len(e) || len(a) == 0 {
		return false
	}
	for i := range a {
		av, err := strconv.ParseFloat(a[i], 64)
		if err != nil {
			return false
		}
		ev, err := strconv.ParseFloat(e[i], 64)
		if err != nil {
			return false
		}
		if !c.close(av, ev) {
			return false
		}
	}
	return true
}

func (c *Comparator) close(a, b float64) bool {
	if a == b {
		return true
	}
	if math.IsNaN(a) || math.IsNaN(b) {
		return false
	}
	if c.Epsilon == 0 {
		return false
	}
	diff := math.Abs(a - b)
	if diff <= c.Epsilon {
		return true
	}
	return diff <= c.Epsilon*math.Abs(b)
}
