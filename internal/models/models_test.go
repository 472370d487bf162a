package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestThresholdsClassify(t *testing.T) {
	th := Thresholds{High: 70, Medium: 40, Low: 20}

	cases := []struct {
		score uint8
		want  string
	}{
		{0, SeverityNone},
		{19, SeverityNone},
		{20, SeverityLow},
		{39, SeverityLow},
		{40, SeverityMedium},
		{69, SeverityMedium},
		{70, SeverityHigh},
		{MaxScore, SeverityHigh},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, th.Classify(tc.score), "score %d", tc.score)
	}
}
