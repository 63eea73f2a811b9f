package paging

import (
	"errors"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/afero"
	"go.uber.org/mock/gomock"

	"github.com/ignaciolitma/nachOS/mem/vm"
	"github.com/ignaciolitma/nachOS/mem/vm/replacement"
	"github.com/ignaciolitma/nachOS/sim"
	"github.com/ignaciolitma/nachOS/tracing"
)

const testPageSize = 16

func mustLoad(s *AddressSpace, vpn vm.VPN) vm.PageTableEntry {
	entry, err := s.LoadPage(vpn)
	Expect(err).NotTo(HaveOccurred())
	Expect(entry.Valid).To(BeTrue())

	return entry
}

func ownedFrames(c *CoreMap) map[vm.PID]int {
	owned := make(map[vm.PID]int)
	for _, f := range c.Frames() {
		if !f.Free() {
			owned[f.Owner]++
		}
	}

	return owned
}

func frameCountMustAddUp(c *CoreMap) {
	total := c.FreeCount()
	for _, n := range ownedFrames(c) {
		total += n
	}

	Expect(total).To(Equal(c.NumFrames()))
}

var _ = Describe("CoreMap", func() {
	var (
		fs  afero.Fs
		exe *memExecutable
	)

	BeforeEach(func() {
		fs = afero.NewMemMapFs()
		exe = newMemExecutable(pattern(6*testPageSize, testPageSize), 0)
	})

	build := func(numFrames int, policy replacement.Policy) *CoreMap {
		return MakeBuilder().
			WithNumFrames(numFrames).
			WithPageSize(testPageSize).
			WithStackSize(0).
			WithPolicy(policy).
			WithSwapFs(fs).
			Build("CoreMap")
	}

	Context("address space layout", func() {
		It("should size the page table with the stack", func() {
			c := MakeBuilder().
				WithPageSize(testPageSize).
				WithStackSize(20).
				Build("CoreMap")
			exe = newMemExecutable(make([]byte, 50), 32)

			s, err := c.BuildAddressSpace(1, exe)

			Expect(err).NotTo(HaveOccurred())
			Expect(s.NumPages()).To(Equal(5))
			Expect(s.PID()).To(Equal(vm.PID(1)))

			table := s.PageTable()
			Expect(table[0].ReadOnly).To(BeTrue())
			Expect(table[1].ReadOnly).To(BeTrue())
			Expect(table[2].ReadOnly).To(BeFalse())
			for _, e := range table {
				Expect(e.Valid).To(BeFalse())
				Expect(e.Loaded).To(BeFalse())
				Expect(e.SwapSlot).To(Equal(vm.NoSwapSlot))
			}
		})

		It("should refuse a second address space for a process", func() {
			c := build(4, replacement.FIFO)
			_, _ = c.BuildAddressSpace(1, exe)

			_, err := c.BuildAddressSpace(1, exe)

			Expect(err).To(HaveOccurred())
		})

		It("should load every page without demand loading", func() {
			c := MakeBuilder().
				WithNumFrames(8).
				WithPageSize(testPageSize).
				WithStackSize(0).
				WithDemandLoading(false).
				Build("CoreMap")

			s, err := c.BuildAddressSpace(1, exe)

			Expect(err).NotTo(HaveOccurred())
			for _, e := range s.PageTable() {
				Expect(e.Valid).To(BeTrue())
			}
			Expect(c.FreeCount()).To(Equal(2))
		})
	})

	Context("demand loading", func() {
		It("should load a page from the executable", func() {
			c := build(4, replacement.FIFO)
			s, _ := c.BuildAddressSpace(1, exe)

			entry := mustLoad(s, 2)

			Expect(entry.Loaded).To(BeTrue())
			Expect(entry.Dirty).To(BeFalse())
			Expect(c.FrameData(entry.PhysicalPage)).
				To(Equal(pattern(6*testPageSize, testPageSize)[32:48]))
			Expect(c.FreeCount()).To(Equal(3))
		})

		It("should zero the bytes past the end of the executable", func() {
			c := MakeBuilder().
				WithNumFrames(4).
				WithPageSize(testPageSize).
				WithStackSize(testPageSize).
				Build("CoreMap")
			copy(c.FrameData(0), []byte("garbage garbage!"))
			exe = newMemExecutable([]byte("abc"), 0)
			s, _ := c.BuildAddressSpace(1, exe)

			entry := mustLoad(s, 0)
			Expect(c.FrameData(entry.PhysicalPage)).
				To(Equal(append([]byte("abc"), make([]byte, 13)...)))

			entry = mustLoad(s, 1)
			Expect(c.FrameData(entry.PhysicalPage)).
				To(Equal(make([]byte, testPageSize)))
		})

		It("should return the same frame when loading twice", func() {
			c := build(4, replacement.FIFO)
			s, _ := c.BuildAddressSpace(1, exe)

			first := mustLoad(s, 3)
			second := mustLoad(s, 3)

			Expect(second.PhysicalPage).To(Equal(first.PhysicalPage))
			Expect(c.FreeCount()).To(Equal(3))
		})

		It("should load a page once when faults race", func() {
			c := build(4, replacement.FIFO)
			s, _ := c.BuildAddressSpace(1, exe)

			var wg sync.WaitGroup
			frames := make([]int, 8)
			for i := range frames {
				wg.Add(1)
				go func(i int) {
					defer GinkgoRecover()
					defer wg.Done()
					frames[i] = mustLoad(s, 1).PhysicalPage
				}(i)
			}
			wg.Wait()

			for _, f := range frames {
				Expect(f).To(Equal(frames[0]))
			}
			Expect(c.FreeCount()).To(Equal(3))
		})

		It("should reject a page out of range", func() {
			c := build(4, replacement.FIFO)
			s, _ := c.BuildAddressSpace(1, exe)

			_, err := s.LoadPage(6)

			Expect(err).To(MatchError(vm.ErrAddressOutOfRange))
			Expect(c.FreeCount()).To(Equal(4))
		})

		It("should reject page numbers past the signed range", func() {
			c := build(4, replacement.FIFO)
			s, _ := c.BuildAddressSpace(1, exe)
			huge := vm.VPN(1) << 63

			_, err := s.LoadPage(huge)
			Expect(err).To(MatchError(vm.ErrAddressOutOfRange))

			_, ok := s.Entry(huge)
			Expect(ok).To(BeFalse())

			s.UpdateFromTLB(vm.TLBEntry{VirtualPage: huge, Valid: true, Dirty: true})
			Expect(c.FreeCount()).To(Equal(4))
		})
	})

	Context("executable failures", func() {
		var mockCtrl *gomock.Controller

		BeforeEach(func() {
			mockCtrl = gomock.NewController(GinkgoT())
		})

		AfterEach(func() {
			mockCtrl.Finish()
		})

		It("should report the failure and give the frame back", func() {
			broken := NewMockExecutable(mockCtrl)
			broken.EXPECT().Size().Return(int64(64)).AnyTimes()
			broken.EXPECT().ReadOnlySize().Return(int64(0)).AnyTimes()
			broken.EXPECT().ReadAt(gomock.Any(), int64(16)).
				Return(0, errors.New("disk on fire"))
			c := build(4, replacement.FIFO)
			s, _ := c.BuildAddressSpace(1, broken)

			entry, err := s.LoadPage(1)

			Expect(err).To(MatchError(vm.ErrExecutableIO))
			Expect(vm.ExceptionOf(err)).To(Equal(vm.IOErrorException))
			Expect(entry.Valid).To(BeFalse())
			Expect(c.FreeCount()).To(Equal(4))
		})
	})

	Context("FIFO replacement", func() {
		It("should evict the pages that were loaded first", func() {
			c := build(4, replacement.FIFO)
			s, _ := c.BuildAddressSpace(1, exe)

			for vpn := vm.VPN(0); vpn < 4; vpn++ {
				mustLoad(s, vpn)
			}
			Expect(c.FreeCount()).To(Equal(0))

			mustLoad(s, 4)
			table := s.PageTable()
			Expect(table[0].Valid).To(BeFalse())
			Expect(table[0].Loaded).To(BeTrue())
			Expect(table[1].Valid).To(BeTrue())

			mustLoad(s, 5)
			table = s.PageTable()
			Expect(table[1].Valid).To(BeFalse())
			for vpn := 2; vpn < 6; vpn++ {
				Expect(table[vpn].Valid).To(BeTrue())
			}

			Expect(c.Stats().Evictions).To(Equal(uint64(2)))
			Expect(c.Stats().Discards).To(Equal(uint64(2)))
		})

		It("should ignore references", func() {
			c := build(2, replacement.FIFO)
			s, _ := c.BuildAddressSpace(1, exe)
			first := mustLoad(s, 0)
			mustLoad(s, 1)
			c.Touch(first.PhysicalPage, false)

			mustLoad(s, 2)

			entry, _ := s.Entry(0)
			Expect(entry.Valid).To(BeFalse())
		})
	})

	Context("LRU replacement", func() {
		It("should evict the least recently used page", func() {
			c := build(3, replacement.LRU)
			s, _ := c.BuildAddressSpace(1, exe)
			a := mustLoad(s, 0)
			b := mustLoad(s, 1)
			mustLoad(s, 2)

			c.Touch(a.PhysicalPage, false)
			c.Touch(b.PhysicalPage, false)
			mustLoad(s, 3)

			table := s.PageTable()
			Expect(table[0].Valid).To(BeTrue())
			Expect(table[1].Valid).To(BeTrue())
			Expect(table[2].Valid).To(BeFalse())
			Expect(table[3].Valid).To(BeTrue())
		})

		It("should follow memory access hooks", func() {
			c := build(2, replacement.LRU)
			s, _ := c.BuildAddressSpace(1, exe)
			a := mustLoad(s, 0)
			mustLoad(s, 1)

			c.Func(sim.HookCtx{
				Pos:  vm.HookPosMemAccess,
				Item: vm.MemAccess{Frame: a.PhysicalPage, Write: true},
			})
			mustLoad(s, 2)

			entry, _ := s.Entry(0)
			Expect(entry.Valid).To(BeTrue())
			Expect(entry.Dirty).To(BeTrue())
			Expect(entry.Use).To(BeTrue())
		})
	})

	Context("swapping", func() {
		It("should write dirty pages to swap and read them back", func() {
			c := build(1, replacement.FIFO)
			s, _ := c.BuildAddressSpace(1, exe)
			entry := mustLoad(s, 2)
			copy(c.FrameData(entry.PhysicalPage), []byte("dirty page data!"))
			c.Touch(entry.PhysicalPage, true)

			mustLoad(s, 3)

			evicted, _ := s.Entry(2)
			Expect(evicted.Valid).To(BeFalse())
			Expect(evicted.OnSwap()).To(BeTrue())
			Expect(evicted.SwapSlot).To(Equal(0))
			Expect(s.SwapStore().Created()).To(BeTrue())

			entry = mustLoad(s, 2)
			Expect(string(c.FrameData(entry.PhysicalPage))).
				To(Equal("dirty page data!"))
			Expect(entry.Dirty).To(BeFalse())
			Expect(c.Stats().SwapIns).To(Equal(uint64(1)))
		})

		It("should not write clean pages to swap", func() {
			c := build(1, replacement.FIFO)
			s, _ := c.BuildAddressSpace(1, exe)
			mustLoad(s, 2)

			mustLoad(s, 3)
			entry := mustLoad(s, 2)

			Expect(s.SwapStore().Created()).To(BeFalse())
			Expect(c.FrameData(entry.PhysicalPage)).
				To(Equal(pattern(6*testPageSize, testPageSize)[32:48]))
		})

		It("should reuse the swap slot of a page", func() {
			c := build(1, replacement.FIFO)
			s, _ := c.BuildAddressSpace(1, exe)

			for i := 0; i < 3; i++ {
				entry := mustLoad(s, 2)
				c.Touch(entry.PhysicalPage, true)
				mustLoad(s, 3)
			}

			Expect(s.SwapStore().NumSlots()).To(Equal(1))
		})

		It("should keep the victim when the swap cannot be written", func() {
			c := MakeBuilder().
				WithNumFrames(1).
				WithPageSize(testPageSize).
				WithStackSize(0).
				WithSwapFs(afero.NewReadOnlyFs(fs)).
				Build("CoreMap")
			s, _ := c.BuildAddressSpace(1, exe)
			entry := mustLoad(s, 0)
			c.Touch(entry.PhysicalPage, true)

			_, err := s.LoadPage(1)

			Expect(err).To(MatchError(vm.ErrSwapIO))
			victim, _ := s.Entry(0)
			Expect(victim.Valid).To(BeTrue())
			Expect(victim.Dirty).To(BeTrue())
			Expect(c.FreeCount()).To(Equal(0))
		})

		It("should take the frames of a process whose page cannot be saved", func() {
			c := MakeBuilder().
				WithNumFrames(1).
				WithPageSize(testPageSize).
				WithStackSize(0).
				WithSwapFs(afero.NewReadOnlyFs(fs)).
				Build("CoreMap")
			victim, _ := c.BuildAddressSpace(1, exe)
			faulting, _ := c.BuildAddressSpace(2, exe)
			entry := mustLoad(victim, 0)
			c.Touch(entry.PhysicalPage, true)

			loaded := mustLoad(faulting, 1)

			Expect(loaded.PhysicalPage).To(Equal(entry.PhysicalPage))
			Expect(victim.Lost()).To(MatchError(vm.ErrSwapIO))
			Expect(faulting.Lost()).NotTo(HaveOccurred())
			Expect(ownedFrames(c)).To(Equal(map[vm.PID]int{2: 1}))
			Expect(c.Stats().LostSpaces).To(Equal(uint64(1)))

			_, err := victim.LoadPage(0)
			Expect(err).To(MatchError(vm.ErrSwapIO))
			Expect(vm.ExceptionOf(err)).To(Equal(vm.IOErrorException))

			mustLoad(faulting, 2)
			Expect(faulting.Lost()).NotTo(HaveOccurred())
			frameCountMustAddUp(c)
		})

		It("should pick up the dirty bit cached in the translation buffer", func() {
			mockCtrl := gomock.NewController(GinkgoT())
			defer mockCtrl.Finish()
			cache := NewMockTranslationCache(mockCtrl)
			c := MakeBuilder().
				WithNumFrames(1).
				WithPageSize(testPageSize).
				WithStackSize(0).
				WithSwapFs(fs).
				WithTranslationCache(cache).
				Build("CoreMap")
			s, _ := c.BuildAddressSpace(1, exe)
			mustLoad(s, 4)

			cache.EXPECT().InvalidateFrame(0).Return(vm.TLBEntry{
				VirtualPage:  4,
				PhysicalPage: 0,
				Valid:        true,
				Dirty:        true,
			}, true)
			mustLoad(s, 5)

			entry, _ := s.Entry(4)
			Expect(entry.OnSwap()).To(BeTrue())
		})
	})

	Context("write back from the translation buffer", func() {
		It("should merge the dirty and use bits", func() {
			c := build(4, replacement.FIFO)
			s, _ := c.BuildAddressSpace(1, exe)
			entry := mustLoad(s, 1)

			s.UpdateFromTLB(vm.TLBEntry{
				VirtualPage:  1,
				PhysicalPage: entry.PhysicalPage,
				Valid:        true,
				Dirty:        true,
				Use:          true,
			})
			s.UpdateFromTLB(vm.TLBEntry{
				VirtualPage:  1,
				PhysicalPage: entry.PhysicalPage,
				Valid:        true,
			})

			entry, _ = s.Entry(1)
			Expect(entry.Dirty).To(BeTrue())
			Expect(entry.Use).To(BeFalse())
		})

		It("should ignore stale entries", func() {
			c := build(4, replacement.FIFO)
			s, _ := c.BuildAddressSpace(1, exe)
			entry := mustLoad(s, 1)

			s.UpdateFromTLB(vm.TLBEntry{
				VirtualPage:  1,
				PhysicalPage: entry.PhysicalPage + 1,
				Valid:        true,
				Dirty:        true,
			})
			s.UpdateFromTLB(vm.TLBEntry{VirtualPage: 2, Valid: true, Dirty: true})

			entry, _ = s.Entry(1)
			Expect(entry.Dirty).To(BeFalse())
			other, _ := s.Entry(2)
			Expect(other.Dirty).To(BeFalse())
		})
	})

	Context("teardown", func() {
		It("should free the frames and let another process reuse them", func() {
			c := build(4, replacement.FIFO)
			first, _ := c.BuildAddressSpace(1, exe)
			second, _ := c.BuildAddressSpace(2, exe)
			mustLoad(first, 0)
			mustLoad(second, 0)
			mustLoad(first, 1)
			entry := mustLoad(first, 2)
			c.Touch(entry.PhysicalPage, true)
			mustLoad(second, 1)

			before := c.FreeCount()
			var released []int
			for _, f := range c.Frames() {
				if f.Owner == 1 {
					released = append(released, f.Index)
				}
			}

			Expect(first.Destroy()).To(Succeed())

			Expect(c.FreeCount()).To(Equal(before + len(released)))
			_, live := c.AddressSpace(1)
			Expect(live).To(BeFalse())
			exists, _ := afero.Exists(fs, "SWAP.1")
			Expect(exists).To(BeFalse())

			var reused []int
			for vpn := vm.VPN(2); vpn < 6 && c.FreeCount() > 0; vpn++ {
				reused = append(reused, mustLoad(second, vpn).PhysicalPage)
			}
			Expect(reused).To(ConsistOf(released))
		})

		It("should release frames without touching other processes", func() {
			c := build(4, replacement.FIFO)
			first, _ := c.BuildAddressSpace(1, exe)
			second, _ := c.BuildAddressSpace(2, exe)
			mustLoad(first, 0)
			mustLoad(second, 0)
			mustLoad(second, 1)

			Expect(c.Release(2)).To(Equal(2))

			Expect(ownedFrames(c)).To(Equal(map[vm.PID]int{1: 1}))
			entry, _ := second.Entry(0)
			Expect(entry.Valid).To(BeFalse())
		})
	})

	Context("invariants", func() {
		It("should keep the frame count and single ownership", func() {
			c := build(3, replacement.LRU)
			spaces := make([]*AddressSpace, 3)
			for i := range spaces {
				spaces[i], _ = c.BuildAddressSpace(vm.PID(i+1), exe)
			}

			for step := 0; step < 60; step++ {
				s := spaces[step%3]
				entry := mustLoad(s, vm.VPN((step*7)%6))
				if step%4 == 0 {
					c.Touch(entry.PhysicalPage, true)
				}

				frameCountMustAddUp(c)

				seen := make(map[int]bool)
				for _, s := range spaces {
					for _, e := range s.PageTable() {
						if !e.Valid {
							continue
						}
						Expect(seen[e.PhysicalPage]).To(BeFalse())
						seen[e.PhysicalPage] = true

						f := c.Frames()[e.PhysicalPage]
						Expect(f.Owner).To(Equal(s.PID()))
						Expect(f.VirtualPage).To(Equal(e.VirtualPage))
					}
				}
			}
		})
	})

	Context("tracing", func() {
		It("should report loads and evictions", func() {
			c := build(1, replacement.FIFO)
			tracer := tracing.NewStepCountTracer(tracing.AllTasks)
			tracing.CollectTrace(c, tracer)
			s, _ := c.BuildAddressSpace(1, exe)

			entry := mustLoad(s, 0)
			c.Touch(entry.PhysicalPage, true)
			mustLoad(s, 1)
			mustLoad(s, 0)

			Expect(tracer.GetStepCount("exec_load")).To(Equal(uint64(2)))
			Expect(tracer.GetStepCount("swap_out")).To(Equal(uint64(1)))
			Expect(tracer.GetStepCount("discard")).To(Equal(uint64(1)))
			Expect(tracer.GetStepCount("swap_in")).To(Equal(uint64(1)))
		})
	})
})
