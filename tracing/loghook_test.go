package tracing

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sarchlab/speedmeasure/clock"
)

var _ = Describe("LogHook", func() {
	var (
		mockCtrl   *gomock.Controller
		timeTeller *MockTimeTeller
		logs       *observer.ObservedLogs
		l          *Ledger
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		timeTeller = NewMockTimeTeller(mockCtrl)

		var core zapcore.Core
		core, logs = observer.New(zapcore.DebugLevel)

		l = NewLedger(timeTeller)
		l.AcceptHook(NewLogHook(zap.New(core)))
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should warn about a correlation failure", func() {
		timeTeller.EXPECT().CurrentTime().Return(clock.Millis(5))

		err := l.RecordEnd("plugins", "A/Compiler/emit", EndRequest{
			ID:           4,
			AllowFailure: true,
		})
		Expect(err).NotTo(HaveOccurred())

		warnings := logs.FilterLevelExact(zapcore.WarnLevel).All()
		Expect(warnings).To(HaveLen(1))

		fields := warnings[0].ContextMap()
		Expect(fields["category"]).To(Equal("plugins"))
		Expect(fields["event"]).To(Equal("A/Compiler/emit"))
		Expect(fields["id"]).To(Equal(uint64(4)))
		Expect(fields["tolerated"]).To(Equal(true))
	})

	It("should log intervals at debug level", func() {
		timeTeller.EXPECT().CurrentTime().Return(clock.Millis(5))
		timeTeller.EXPECT().CurrentTime().Return(clock.Millis(12))

		l.RecordStart("misc", "compile", StartRequest{})
		Expect(l.RecordEnd("misc", "compile",
			EndRequest{FillLast: true})).To(Succeed())

		Expect(logs.FilterMessage("interval started").Len()).To(Equal(1))

		ended := logs.FilterMessage("interval ended").All()
		Expect(ended).To(HaveLen(1))
		Expect(ended[0].ContextMap()["duration_ms"]).To(Equal(int64(7)))
		Expect(logs.FilterLevelExact(zapcore.WarnLevel).Len()).To(Equal(0))
	})

	It("should log a reset", func() {
		l.Reset()

		Expect(logs.FilterMessage("ledger reset").Len()).To(Equal(1))
	})
})
