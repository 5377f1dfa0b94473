package report

import (
	"math"
	"strconv"
	"strings"

	"github.com/sarchlab/speedmeasure/clock"
)

const (
	msInMinute = 60000
	msInSecond = 1000
)

// HumanTime formats a duration for people. The verbose form is the exact
// number of milliseconds; the short form is minutes and seconds.
func HumanTime(ms clock.Millis, verbose bool) string {
	if verbose {
		return groupThousands(int64(ms)) + " ms"
	}

	minutes := int64(ms) / msInMinute
	secondsRaw := float64(int64(ms)-minutes*msInMinute) / msInSecond
	secondsWhole := math.Floor(secondsRaw)

	precision := 3
	if secondsWhole > 0 {
		precision = 2
	}

	remainder := math.Min(secondsRaw-secondsWhole, 0.99)
	fraction := toPrecision(remainder, precision)
	fraction = strings.TrimPrefix(fraction, "0")
	fraction = strings.TrimRight(fraction, "0")
	fraction = strings.TrimSuffix(fraction, ".")

	var b strings.Builder

	if minutes > 0 {
		b.WriteString(strconv.FormatInt(minutes, 10))
		b.WriteString(" min")

		if minutes > 1 {
			b.WriteString("s")
		}

		b.WriteString(", ")
	}

	b.WriteString(strconv.FormatInt(int64(secondsWhole), 10))
	b.WriteString(fraction)
	b.WriteString(" secs")

	return b.String()
}

// toPrecision formats x in [0, 1) with the given number of significant
// digits.
func toPrecision(x float64, digits int) string {
	decimals := digits - 1
	if x > 0 {
		decimals = digits - 1 - int(math.Floor(math.Log10(x)))
	}

	return strconv.FormatFloat(x, 'f', decimals, 64)
}

func groupThousands(n int64) string {
	s := strconv.FormatInt(n, 10)

	sign := ""
	if n < 0 {
		sign, s = "-", s[1:]
	}

	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}

		b.WriteRune(r)
	}

	return sign + b.String()
}
