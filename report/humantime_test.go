package report

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/speedmeasure/clock"
)

var _ = DescribeTable("HumanTime",
	func(ms int, verbose bool, want string) {
		Expect(HumanTime(clock.Millis(ms), verbose)).To(Equal(want))
	},
	Entry("zero", 0, false, "0 secs"),
	Entry("milliseconds", 50, false, "0.05 secs"),
	Entry("sub-second", 123, false, "0.123 secs"),
	Entry("seconds", 1234, false, "1.23 secs"),
	Entry("whole seconds", 2000, false, "2 secs"),
	Entry("one minute", 61500, false, "1 min, 1.5 secs"),
	Entry("minutes", 150000, false, "2 mins, 30 secs"),
	Entry("verbose", 1234567, true, "1,234,567 ms"),
	Entry("verbose small", 12, true, "12 ms"),
)
