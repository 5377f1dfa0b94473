package pipeline

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/speedmeasure/deferred"
)

var _ = Describe("Hook", func() {
	It("should call sync taps in order", func() {
		h := NewSyncHook("compile")

		var calls []string
		h.Tap("A", func(args ...any) any {
			calls = append(calls, "A")
			return nil
		})
		h.Tap("B", func(args ...any) any {
			calls = append(calls, "B:"+args[0].(string))
			return nil
		})

		h.Call("x")

		Expect(calls).To(Equal([]string{"A", "B:x"}))
	})

	It("should reject async taps on sync hooks", func() {
		h := NewSyncHook("compile")

		Expect(func() {
			h.TapAsync("A", func(...any) any { return nil })
		}).To(Panic())
		Expect(func() {
			h.TapPromise("A", func(...any) any { return nil })
		}).To(Panic())
	})

	It("should run async taps in series", func() {
		h := NewAsyncHook("emit")

		var calls []string
		var pending func(...any)
		h.TapAsync("A", func(args ...any) any {
			calls = append(calls, "A")
			pending = args[len(args)-1].(func(...any))
			return nil
		})
		h.Tap("B", func(args ...any) any {
			calls = append(calls, "B")
			return nil
		})

		finished := false
		h.CallAsync(func(err error) {
			Expect(err).NotTo(HaveOccurred())
			finished = true
		}, "compilation")

		Expect(calls).To(Equal([]string{"A"}))
		Expect(finished).To(BeFalse())

		pending()

		Expect(calls).To(Equal([]string{"A", "B"}))
		Expect(finished).To(BeTrue())
	})

	It("should wait for promise taps", func() {
		h := NewAsyncHook("emit")
		d := deferred.New()
		h.TapPromise("A", func(...any) any { return d })

		finished := false
		h.CallAsync(func(err error) {
			Expect(err).NotTo(HaveOccurred())
			finished = true
		})

		Expect(finished).To(BeFalse())
		Expect(d.Resolve(nil)).To(Succeed())
		Expect(finished).To(BeTrue())
	})

	It("should stop at the first error", func() {
		h := NewAsyncHook("emit")
		boom := errors.New("boom")

		h.TapPromise("A", func(...any) any { return deferred.Rejected(boom) })
		h.Tap("B", func(...any) any {
			Fail("should not be called")
			return nil
		})

		var got error
		h.CallAsync(func(err error) { got = err })

		Expect(got).To(MatchError(boom))
	})

	It("should fail a promise tap that returns no deferred value", func() {
		h := NewAsyncHook("emit")
		h.TapPromise("A", func(...any) any { return 1 })

		var got error
		h.CallAsync(func(err error) { got = err })

		Expect(got).To(MatchError(ContainSubstring("did not return")))
	})

	It("should pass the error of an async tap", func() {
		h := NewAsyncHook("done")
		h.TapAsync("A", func(args ...any) any {
			args[len(args)-1].(func(...any))("failed")
			return nil
		})

		var got error
		h.CallAsync(func(err error) { got = err })

		Expect(got).To(MatchError("failed"))
	})

	It("should give legacy taps a continuation on async hooks only", func() {
		set := NewHookSet("Compiler", NewSyncHook("compile"), NewAsyncHook("emit"))

		var syncArgs, asyncArgs []any
		Expect(set.Plugin("compile", func(args ...any) any {
			syncArgs = args
			return nil
		})).To(Succeed())
		Expect(set.Plugin("emit", func(args ...any) any {
			asyncArgs = args
			args[len(args)-1].(func(...any))()
			return nil
		})).To(Succeed())

		set.Get("compile").Call("p")
		set.Get("emit").CallAsync(func(error) {}, "c")

		Expect(syncArgs).To(Equal([]any{"p"}))
		Expect(asyncArgs).To(HaveLen(2))
		Expect(asyncArgs[0]).To(Equal("c"))
	})
})

var _ = Describe("HookSet", func() {
	It("should list hooks in declaration order", func() {
		s := NewHookSet("Compilation",
			NewSyncHook("build-module"),
			NewSyncHook("seal"))

		Expect(s.Kind()).To(Equal("Compilation"))
		Expect(s.HookNames()).To(Equal([]string{"build-module", "seal"}))
		Expect(s.Hook("seal").Name()).To(Equal("seal"))
		Expect(s.Hook("missing")).To(BeNil())
	})

	It("should reject legacy registration on unknown hooks", func() {
		s := NewHookSet("Compiler", NewSyncHook("compile"))

		err := s.Plugin("missing", func(...any) any { return nil })

		var unknown *UnknownHookError
		Expect(errors.As(err, &unknown)).To(BeTrue())
		Expect(unknown.Hook).To(Equal("missing"))
	})

	It("should panic on duplicate hooks", func() {
		Expect(func() {
			NewHookSet("Compiler", NewSyncHook("compile"), NewSyncHook("compile"))
		}).To(Panic())
	})
})
