// Package monitoring exposes the state of a running kernel over HTTP.
package monitoring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"

	"github.com/ignaciolitma/nachOS/kernel"
	"github.com/ignaciolitma/nachOS/mem/vm/paging"
	"github.com/ignaciolitma/nachOS/sim"
)

// Kernel is the part of a kernel that the monitor reads from.
type Kernel interface {
	sim.Named
	CurrentTime() sim.VTime
	Processes() []kernel.ProcessInfo
	Stats() kernel.Stats
	FreeFrameCount() int
	Frames() []paging.Frame
}

// Monitor serves the state of a kernel and its components.
type Monitor struct {
	mu         sync.Mutex
	kernel     Kernel
	components []sim.Named
	portNumber int
	startTime  time.Time
}

// NewMonitor creates a new Monitor
func NewMonitor() *Monitor {
	return &Monitor{startTime: time.Now()}
}

// WithPortNumber sets the port number of the monitor. Port numbers below
// 1000 let the operating system pick a free port.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is not allowed, using a random port instead\n",
			portNumber)

		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// RegisterKernel sets the kernel to monitor. The kernel is also registered as
// a component.
func (m *Monitor) RegisterKernel(k Kernel) {
	m.mu.Lock()
	m.kernel = k
	m.mu.Unlock()

	m.RegisterComponent(k)
}

// RegisterComponent makes a component inspectable through the monitor.
func (m *Monitor) RegisterComponent(c sim.Named) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.components {
		if existing.Name() == c.Name() {
			log.Panicf("component %s is already registered", c.Name())
		}
	}

	m.components = append(m.components, c)
}

// Router returns the HTTP handler that serves the monitoring API.
func (m *Monitor) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/now", m.now)
	r.HandleFunc("/api/free_frames", m.freeFrames)
	r.HandleFunc("/api/frames", m.frames)
	r.HandleFunc("/api/processes", m.processes)
	r.HandleFunc("/api/process/{pid}", m.processDetails)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/stats", m.stats)
	r.HandleFunc("/api/list_components", m.listComponents)
	r.HandleFunc("/api/component/{name}", m.listComponentDetails)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)

	return r
}

// StartServer starts the monitor as a web server in the background and
// returns its URL.
func (m *Monitor) StartServer() string {
	actualPort := ":" + strconv.Itoa(m.portNumber)

	listener, err := net.Listen("tcp", actualPort)
	dieOnErr(err)

	port := listener.Addr().(*net.TCPAddr).Port
	url := fmt.Sprintf("http://localhost:%d", port)

	fmt.Fprintf(os.Stderr, "Monitoring nachOS with %s\n", url)

	go func() {
		err := http.Serve(listener, m.Router())
		dieOnErr(err)
	}()

	return url
}

func (m *Monitor) getKernel(w http.ResponseWriter) (Kernel, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.kernel == nil {
		http.Error(w, "no kernel registered", http.StatusServiceUnavailable)
		return nil, false
	}

	return m.kernel, true
}

func (m *Monitor) now(w http.ResponseWriter, _ *http.Request) {
	k, ok := m.getKernel(w)
	if !ok {
		return
	}

	m.writeJSON(w, map[string]uint64{"now": uint64(k.CurrentTime())})
}

func (m *Monitor) freeFrames(w http.ResponseWriter, _ *http.Request) {
	k, ok := m.getKernel(w)
	if !ok {
		return
	}

	stats := k.Stats()

	m.writeJSON(w, map[string]int{
		"free":  k.FreeFrameCount(),
		"total": stats.NumFrames,
	})
}

type frameRsp struct {
	Index int    `json:"index"`
	Free  bool   `json:"free"`
	Owner int    `json:"owner"`
	VPN   uint64 `json:"vpn"`
	Use   bool   `json:"use"`
	Dirty bool   `json:"dirty"`
}

func (m *Monitor) frames(w http.ResponseWriter, _ *http.Request) {
	k, ok := m.getKernel(w)
	if !ok {
		return
	}

	frames := k.Frames()
	rsp := make([]frameRsp, 0, len(frames))

	for _, f := range frames {
		rsp = append(rsp, frameRsp{
			Index: f.Index,
			Free:  f.Free(),
			Owner: int(f.Owner),
			VPN:   uint64(f.VirtualPage),
			Use:   f.Use,
			Dirty: f.Dirty,
		})
	}

	m.writeJSON(w, rsp)
}

func (m *Monitor) processes(w http.ResponseWriter, _ *http.Request) {
	k, ok := m.getKernel(w)
	if !ok {
		return
	}

	m.writeJSON(w, k.Processes())
}

func (m *Monitor) processDetails(w http.ResponseWriter, r *http.Request) {
	k, ok := m.getKernel(w)
	if !ok {
		return
	}

	pid, err := strconv.ParseUint(mux.Vars(r)["pid"], 10, 64)
	if err != nil {
		http.Error(w, "invalid pid", http.StatusBadRequest)
		return
	}

	for _, p := range k.Processes() {
		if uint64(p.PID) == pid {
			m.writeJSON(w, p)
			return
		}
	}

	http.NotFound(w, r)
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	k, ok := m.getKernel(w)
	if !ok {
		return
	}

	infos := k.Processes()
	bars := make([]*ProgressBar, 0, len(infos))

	for _, p := range infos {
		bars = append(bars, progressBarOf(p, m.startTime))
	}

	m.writeJSON(w, bars)
}

func (m *Monitor) stats(w http.ResponseWriter, _ *http.Request) {
	k, ok := m.getKernel(w)
	if !ok {
		return
	}

	m.writeJSON(w, k.Stats())
}

func (m *Monitor) listComponents(w http.ResponseWriter, _ *http.Request) {
	m.mu.Lock()
	names := make([]string, 0, len(m.components))
	for _, c := range m.components {
		names = append(names, c.Name())
	}
	m.mu.Unlock()

	sort.Strings(names)

	m.writeJSON(w, names)
}

func (m *Monitor) listComponentDetails(w http.ResponseWriter, r *http.Request) {
	component := m.findComponentOr404(w, mux.Vars(r)["name"])
	if component == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(component)
	serializer.SetMaxDepth(1)

	buf := bytes.NewBuffer(nil)

	err := serializer.Serialize(buf)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(buf.Bytes())
	dieOnErr(err)
}

func (m *Monitor) findComponentOr404(
	w http.ResponseWriter,
	name string,
) sim.Named {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.components {
		if c.Name() == name {
			return c
		}
	}

	w.WriteHeader(http.StatusNotFound)

	return nil
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	cpuPercent, err := p.CPUPercent()
	dieOnErr(err)

	memorySize, err := p.MemoryInfo()
	dieOnErr(err)

	m.writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	time.Sleep(time.Second)
	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	m.writeJSON(w, prof)
}

func (m *Monitor) writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	dieOnErr(err)

	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(data)
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
