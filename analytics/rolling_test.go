package analytics

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Rolling Mean", func() {

	Describe("Construction", func() {
		It("should reject a zero window", func() {
			rm, err := NewRollingMean[float64](0)
			Expect(rm).To(BeNil())
			Expect(err).To(MatchError(ErrInvalidConfiguration))
		})

		It("should reject a negative window", func() {
			_, err := NewRollingMean[float32](-3)
			var cfgErr *ConfigError
			Expect(err).To(BeAssignableToTypeOf(cfgErr))
		})

		It("should start empty and cumulative", func() {
			rm, err := NewRollingMean[float64](3)
			Expect(err).NotTo(HaveOccurred())
			Expect(rm.Len()).To(Equal(0))
			Expect(rm.Mode()).To(Equal(Cumulative))
			Expect(rm.Mean()).To(Equal(0.0))
			Expect(rm.WindowSize()).To(Equal(3))
		})
	})

	Describe("Window of two", func() {
		It("should follow the cumulative then rolling formulas", func() {
			rm, err := NewRollingMean[float64](2)
			Expect(err).NotTo(HaveOccurred())

			rm.Insert(1.0)
			Expect(rm.Mean()).To(Equal(1.0))
			Expect(rm.Mode()).To(Equal(Cumulative))

			rm.Insert(2.0)
			Expect(rm.Mean()).To(Equal(1.5))
			Expect(rm.Mode()).To(Equal(Rolling))

			rm.Insert(3.0) // 1.5 + 3/2 - 1/2
			Expect(rm.Mean()).To(Equal(2.5))

			rm.Insert(4.0) // 2.5 + 4/2 - 2/2
			Expect(rm.Mean()).To(Equal(3.5))
			Expect(rm.Len()).To(Equal(2))
		})

		It("should give the same results in single precision", func() {
			rm, err := NewRollingMean[float32](2)
			Expect(err).NotTo(HaveOccurred())

			var means []float32
			for _, v := range []float32{1, 2, 3, 4} {
				rm.Insert(v)
				means = append(means, rm.Mean())
			}
			Expect(means).To(Equal([]float32{1.0, 1.5, 2.5, 3.5}))
		})
	})

	Describe("Mode switch", func() {
		It("should compute the insert that fills the window cumulatively", func() {
			rm, _ := NewRollingMean[float64](4)
			for _, v := range []float64{1, 2, 3} {
				rm.Insert(v)
			}
			Expect(rm.Mode()).To(Equal(Cumulative))

			rm.Insert(10)
			Expect(rm.Mean()).To(Equal(4.0))
			Expect(rm.Mode()).To(Equal(Rolling))
			_, evicted := rm.LastEvicted()
			Expect(evicted).To(BeFalse())

			rm.Insert(6) // 4 + 6/4 - 1/4
			Expect(rm.Mean()).To(Equal(5.25))
			ev, evicted := rm.LastEvicted()
			Expect(evicted).To(BeTrue())
			Expect(ev).To(Equal(1.0))
		})

		It("should stay rolling for the rest of the stream", func() {
			rm, _ := NewRollingMean[float64](3)
			for i := 0; i < 50; i++ {
				rm.Insert(float64(i))
				if i >= 2 {
					Expect(rm.Mode()).To(Equal(Rolling))
				}
			}
			Expect(rm.Inserted()).To(Equal(uint64(50)))
		})
	})

	Describe("Buffer access", func() {
		It("should keep samples oldest first and evict in FIFO order", func() {
			rm, _ := NewRollingMean[float64](3)
			for _, v := range []float64{5, 6, 7, 8} {
				rm.Insert(v)
			}
			Expect(rm.Samples()).To(Equal([]float64{6, 7, 8}))

			first, err := rm.At(0)
			Expect(err).NotTo(HaveOccurred())
			Expect(first).To(Equal(6.0))

			last, err := rm.At(2)
			Expect(err).NotTo(HaveOccurred())
			Expect(last).To(Equal(8.0))
		})

		It("should fail on out of range indexes", func() {
			rm, _ := NewRollingMean[float64](3)
			_, err := rm.At(0)
			Expect(err).To(MatchError(ErrIndexOutOfRange))

			rm.Insert(1)
			_, err = rm.At(1)
			Expect(err).To(MatchError(ErrIndexOutOfRange))
			_, err = rm.At(-1)
			Expect(err).To(MatchError(ErrIndexOutOfRange))
		})
	})
})
