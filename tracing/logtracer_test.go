package tracing

import (
	"bytes"
	"log"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ignaciolitma/nachOS/sim"
)

var _ = Describe("LogTracer", func() {
	It("should print accepted tasks", func() {
		buf := new(bytes.Buffer)
		clock := &sim.Clock{}
		clock.Advance(7)
		t := NewLogTracer(log.New(buf, "", 0), clock, KindFilter("page_fault"))

		t.StartTask(Task{ID: "1", Kind: "page_fault", What: "load", Where: "Kernel"})
		t.StepTask(Task{ID: "1", Steps: []TaskStep{{What: "swap_in"}}})
		t.EndTask(Task{ID: "1"})
		t.StartTask(Task{ID: "2", Kind: "frame", What: "evict", Where: "CoreMap"})
		t.EndTask(Task{ID: "2"})

		Expect(buf.String()).To(Equal(
			"[7] Kernel: start page_fault load (task 1)\n" +
				"[7] : step swap_in (task 1)\n" +
				"[7] : end (task 1)\n"))
	})
})
