package backend_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ddevcap/rpc-proxy/backend"
	"github.com/ddevcap/rpc-proxy/config"
)

var _ = Describe("Dispatcher", func() {
	var (
		store *backend.Store
		disp  *backend.Dispatcher
	)

	backends := []config.Backend{
		{Label: "a", URL: "http://a.test", Weight: 1},
		{Label: "b", URL: "http://b.test", Weight: 3},
	}
	routes := map[string]string{"getBlock": "b"}

	markUnhealthy := func(label string) {
		store.ApplyProbe(label, errors.New("status 500"))
	}

	BeforeEach(func() {
		// Threshold 1 so a single failed probe flips a backend.
		store = backend.NewStore([]string{"a", "b"}, 1, 1)
		disp = backend.NewDispatcher(backends, routes, store)
	})

	It("honors a method route to a healthy backend", func() {
		for i := 0; i < 10; i++ {
			label, url, ok := disp.Select("getBlock")
			Expect(ok).To(BeTrue())
			Expect(label).To(Equal("b"))
			Expect(url).To(Equal("http://b.test"))
		}
	})

	It("falls back to weighted selection when the routed backend is unhealthy", func() {
		markUnhealthy("b")
		label, url, ok := disp.Select("getBlock")
		Expect(ok).To(BeTrue())
		Expect(label).To(Equal("a"))
		Expect(url).To(Equal("http://a.test"))
	})

	It("ignores methods without a route", func() {
		disp.SetIntNForTest(func(int) int { return 0 })
		label, _, ok := disp.Select("getSlot")
		Expect(ok).To(BeTrue())
		Expect(label).To(Equal("a"))
	})

	It("returns not-ok when no backend is healthy", func() {
		markUnhealthy("a")
		markUnhealthy("b")
		_, _, ok := disp.Select("")
		Expect(ok).To(BeFalse())

		_, _, ok = disp.Select("getBlock")
		Expect(ok).To(BeFalse())
	})

	It("walks weights in configured order", func() {
		// a has weight 1, b weight 3: draw 0 lands on a, draws 1..3 on b.
		for draw, want := range map[int]string{0: "a", 1: "b", 2: "b", 3: "b"} {
			disp.SetIntNForTest(func(int) int { return draw })
			label, _, ok := disp.Select("")
			Expect(ok).To(BeTrue())
			Expect(label).To(Equal(want), "draw %d", draw)
		}
	})

	It("restricts the draw to healthy backends", func() {
		markUnhealthy("b")
		for i := 0; i < 50; i++ {
			label, _, ok := disp.Select("")
			Expect(ok).To(BeTrue())
			Expect(label).To(Equal("a"))
		}
	})

	It("only ever returns healthy backends with their configured URL", func() {
		markUnhealthy("a")
		for i := 0; i < 50; i++ {
			label, url, ok := disp.Select("")
			Expect(ok).To(BeTrue())
			rec, found := store.Get(label)
			Expect(found).To(BeTrue())
			Expect(rec.Healthy).To(BeTrue())
			Expect(url).To(Equal("http://b.test"))
		}
	})

	It("converges on the configured weight distribution", func() {
		const draws = 8000
		counts := map[string]int{}
		for i := 0; i < draws; i++ {
			label, _, ok := disp.Select("")
			Expect(ok).To(BeTrue())
			counts[label]++
		}
		// a carries 1/4 of the total weight.
		Expect(counts["a"]).To(BeNumerically("~", draws/4, draws/16))
		Expect(counts["b"]).To(BeNumerically("~", 3*draws/4, draws/16))
	})
})
