// Package monitoring serves the state of a running emulation over HTTP.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"

	"github.com/sarchlab/firmhook/bus"
	"github.com/sarchlab/firmhook/guestcall"
	"github.com/sarchlab/firmhook/intercept"
	"github.com/sarchlab/firmhook/monitoring/web"
	"github.com/sarchlab/firmhook/sim"
	"github.com/sarchlab/firmhook/tracing"
)

// Monitor turns an emulation into a server that shows its state and accepts
// a few commands.
type Monitor struct {
	portNumber  int
	openBrowser bool

	lock       sync.Mutex
	dispatcher *intercept.Dispatcher
	injector   *guestcall.Injector
	bus        *bus.Bus
	stats      *tracing.StatsCollector
	tracer     *tracing.DBTracer
	callTimer  *tracing.AverageTimeTracer
	outcomes   *tracing.StepCountTracer
	buffers    []BufferLister
	shutdown   func(code int)

	server *http.Server
}

// NewMonitor creates a new Monitor
func NewMonitor() *Monitor {
	return &Monitor{}
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n", portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// WithBrowser makes StartServer open the monitor page.
func (m *Monitor) WithBrowser() *Monitor {
	m.openBrowser = true
	return m
}

// RegisterDispatcher registers the dispatcher whose bindings are shown.
func (m *Monitor) RegisterDispatcher(d *intercept.Dispatcher) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.dispatcher = d
}

// RegisterInjector registers the injector whose stubs and heap are shown.
func (m *Monitor) RegisterInjector(i *guestcall.Injector) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.injector = i
}

// RegisterBus registers the peripheral bus.
func (m *Monitor) RegisterBus(b *bus.Bus) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.bus = b
}

// RegisterStats registers the statistics collector.
func (m *Monitor) RegisterStats(s *tracing.StatsCollector) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.stats = s
}

// RegisterTracer registers the tracer that can be turned on and off.
func (m *Monitor) RegisterTracer(t *tracing.DBTracer) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.tracer = t
}

// RegisterCallTimer registers the tracer that times guest calls.
func (m *Monitor) RegisterCallTimer(t *tracing.AverageTimeTracer) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.callTimer = t
}

// RegisterOutcomeCounter registers the tracer that counts how traps end.
func (m *Monitor) RegisterOutcomeCounter(t *tracing.StepCountTracer) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.outcomes = t
}

// A BufferLister lists buffers that may come and go.
type BufferLister interface {
	Buffers() []sim.Buffer
}

type fixedBuffers []sim.Buffer

func (b fixedBuffers) Buffers() []sim.Buffer {
	return b
}

// RegisterBuffers registers buffers whose levels are shown.
func (m *Monitor) RegisterBuffers(buffers ...sim.Buffer) {
	m.RegisterBufferLister(fixedBuffers(buffers))
}

// RegisterBufferLister registers a source of buffers, asked again on every
// request.
func (m *Monitor) RegisterBufferLister(l BufferLister) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.buffers = append(m.buffers, l)
}

// RegisterShutdown sets what the shutdown request calls.
func (m *Monitor) RegisterShutdown(f func(code int)) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.shutdown = f
}

// Router returns the routes of the monitor.
func (m *Monitor) Router() *mux.Router {
	r := mux.NewRouter()

	fServer := http.FileServer(web.GetAssets())
	r.HandleFunc("/api/bindings", m.listBindings)
	r.HandleFunc("/api/handler/{class}", m.handlerState)
	r.HandleFunc("/api/field/{json}", m.listFieldValue)
	r.HandleFunc("/api/heap", m.heap)
	r.HandleFunc("/api/stubs", m.stubs)
	r.HandleFunc("/api/bus", m.busState)
	r.HandleFunc("/api/stats", m.listStats)
	r.HandleFunc("/api/trace", m.traceState)
	r.HandleFunc("/api/trace/{state:on|off}", m.setTracing).Methods(http.MethodPost)
	r.HandleFunc("/api/hangdetector/buffers", m.hangDetectorBuffers)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)
	r.HandleFunc("/api/shutdown", m.requestShutdown).Methods(http.MethodPost)

	// Static assets are served only when no API route matches the path, so
	// a wrong method on an API route still answers 405.
	r.NotFoundHandler = fServer

	return r
}

// StartServer starts the monitor as a web server and returns its port.
func (m *Monitor) StartServer() (int, error) {
	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	if err != nil {
		return 0, err
	}

	port := listener.Addr().(*net.TCPAddr).Port
	url := fmt.Sprintf("http://localhost:%d", port)

	fmt.Fprintf(os.Stderr, "Monitoring emulation with %s\n", url)

	m.server = &http.Server{
		Handler:           m.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		err := m.server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Panic(err)
		}
	}()

	if m.openBrowser {
		if err := browser.OpenURL(url); err != nil {
			fmt.Fprintf(os.Stderr, "Cannot open a browser: %v\n", err)
		}
	}

	return port, nil
}

// StopServer shuts the server down.
func (m *Monitor) StopServer(ctx context.Context) error {
	if m.server == nil {
		return nil
	}

	return m.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")

	err := json.NewEncoder(w).Encode(v)
	dieOnErr(err)
}

func notRegistered(w http.ResponseWriter, what string) {
	http.Error(w, what+" not registered", http.StatusNotFound)
}

func (m *Monitor) listBindings(w http.ResponseWriter, _ *http.Request) {
	m.lock.Lock()
	d := m.dispatcher
	m.lock.Unlock()

	if d == nil {
		notRegistered(w, "dispatcher")
		return
	}

	writeJSON(w, d.Bindings())
}

func (m *Monitor) findHandlerOr404(
	w http.ResponseWriter,
	class string,
) intercept.Handler {
	m.lock.Lock()
	d := m.dispatcher
	m.lock.Unlock()

	if d == nil {
		notRegistered(w, "dispatcher")
		return nil
	}

	h, ok := d.Registry().Instance(class)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_, err := w.Write([]byte("Handler not found"))
		dieOnErr(err)

		return nil
	}

	return h
}

func (m *Monitor) handlerState(w http.ResponseWriter, r *http.Request) {
	h := m.findHandlerOr404(w, mux.Vars(r)["class"])
	if h == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(h)
	serializer.SetMaxDepth(1)
	err := serializer.Serialize(w)

	dieOnErr(err)
}

type fieldReq struct {
	Class     string `json:"class,omitempty"`
	FieldName string `json:"field_name,omitempty"`
}

func (m *Monitor) listFieldValue(w http.ResponseWriter, r *http.Request) {
	req := fieldReq{}

	err := json.Unmarshal([]byte(mux.Vars(r)["json"]), &req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h := m.findHandlerOr404(w, req.Class)
	if h == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(h)
	serializer.SetMaxDepth(1)

	err = serializer.SetEntryPoint(strings.Split(req.FieldName, "."))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = serializer.Serialize(w)
	dieOnErr(err)
}

type heapRsp struct {
	Base      uint64         `json:"base"`
	Size      uint64         `json:"size"`
	Used      uint64         `json:"used"`
	Free      []scratchBlock `json:"free"`
	Allocated []scratchBlock `json:"allocated"`
}

type scratchBlock struct {
	Base uint64 `json:"base"`
	Size uint64 `json:"size"`
}

func (m *Monitor) heap(w http.ResponseWriter, _ *http.Request) {
	m.lock.Lock()
	i := m.injector
	m.lock.Unlock()

	if i == nil {
		notRegistered(w, "injector")
		return
	}

	h := i.Heap()
	rsp := heapRsp{Base: h.Base(), Size: h.Size()}
	rsp.Used, _ = h.Usage()

	for _, b := range h.FreeBlocks() {
		rsp.Free = append(rsp.Free, scratchBlock{Base: b.Base, Size: b.Size})
	}

	for _, b := range h.AllocatedBlocks() {
		rsp.Allocated = append(rsp.Allocated, scratchBlock{Base: b.Base, Size: b.Size})
	}

	writeJSON(w, rsp)
}

func (m *Monitor) stubs(w http.ResponseWriter, _ *http.Request) {
	m.lock.Lock()
	i := m.injector
	m.lock.Unlock()

	if i == nil {
		notRegistered(w, "injector")
		return
	}

	writeJSON(w, i.Stubs())
}

type busRsp struct {
	Stats  bus.Stats   `json:"stats"`
	Models []string    `json:"models"`
	Topics []bus.Topic `json:"topics"`
}

func (m *Monitor) busState(w http.ResponseWriter, _ *http.Request) {
	m.lock.Lock()
	b := m.bus
	m.lock.Unlock()

	if b == nil {
		notRegistered(w, "bus")
		return
	}

	rsp := busRsp{Stats: b.Stats(), Topics: b.Topics()}
	for _, model := range b.Models() {
		rsp.Models = append(rsp.Models, model.Name())
	}

	writeJSON(w, rsp)
}

type statsRsp struct {
	Engine     tracing.EngineStats      `json:"engine"`
	Intercepts []tracing.InterceptStats `json:"intercepts"`
}

func (m *Monitor) listStats(w http.ResponseWriter, _ *http.Request) {
	m.lock.Lock()
	s := m.stats
	m.lock.Unlock()

	if s == nil {
		notRegistered(w, "statistics")
		return
	}

	writeJSON(w, statsRsp{Engine: s.Engine(), Intercepts: s.Intercepts()})
}

type traceRsp struct {
	Tracing     bool              `json:"tracing"`
	Calls       uint64            `json:"calls"`
	AverageCall int64             `json:"average_call_ns"`
	MaxCall     int64             `json:"max_call_ns"`
	OpenCalls   int               `json:"open_calls"`
	Outcomes    map[string]uint64 `json:"outcomes,omitempty"`
	Failing     map[string]uint64 `json:"failing,omitempty"`
}

func (m *Monitor) traceState(w http.ResponseWriter, _ *http.Request) {
	m.lock.Lock()
	t, timer, outcomes := m.tracer, m.callTimer, m.outcomes
	m.lock.Unlock()

	rsp := traceRsp{}
	if t != nil {
		rsp.Tracing = t.IsTracing()
	}

	if timer != nil {
		rsp.Calls = timer.TotalCount()
		rsp.AverageCall = timer.AverageTime().Nanoseconds()
		rsp.MaxCall = timer.MaxTime().Nanoseconds()
		rsp.OpenCalls = timer.InFlight()
	}

	if outcomes != nil {
		rsp.Outcomes = outcomes.Counts()
		rsp.Failing = outcomes.Subjects(tracing.StepError)
	}

	writeJSON(w, rsp)
}

func (m *Monitor) setTracing(w http.ResponseWriter, r *http.Request) {
	m.lock.Lock()
	t := m.tracer
	m.lock.Unlock()

	if t == nil {
		notRegistered(w, "tracer")
		return
	}

	if mux.Vars(r)["state"] == "on" {
		t.EnableTracing()
	} else {
		t.DisableTracing()
	}

	m.traceState(w, r)
}

func (m *Monitor) hangDetectorBuffers(w http.ResponseWriter, r *http.Request) {
	sortMethod, limit, offset, err := m.buffersParseParams(r, w)
	if err != nil {
		w.WriteHeader(400)
		fmt.Fprintf(w, "Error: %s", err)
		return
	}

	sortedBuffers := m.sortAndSelectBuffers(sortMethod, limit, offset)

	fmt.Fprintf(w, "[")
	for i, b := range sortedBuffers {
		if i > 0 {
			fmt.Fprint(w, ",")
		}

		fmt.Fprintf(w, "{\"buffer\":\"%s\",\"level\":%d,\"cap\":%d}",
			b.Name(), b.Size(), b.Capacity())
	}

	fmt.Fprint(w, "]")
}

func (*Monitor) buffersParseParams(
	r *http.Request,
	_ http.ResponseWriter,
) (sort string, limit, offset int, err error) {
	sortMethod := r.URL.Query().Get("sort")
	if sortMethod == "" {
		sortMethod = "percent"
	}
	if sortMethod != "level" && sortMethod != "percent" {
		errStr := fmt.Sprintf(
			"Invalid sort method: %s. Allowed values are `level` and `percent`",
			sortMethod)
		return "", 0, 0, errors.New(errStr)
	}

	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		limitStr = "0"
	}
	limitNumber, err := strconv.Atoi(limitStr)
	if err != nil {
		return sortMethod, 0, 0, err
	}

	offsetStr := r.URL.Query().Get("offset")
	if offsetStr == "" {
		offsetStr = "0"
	}
	offsetNumber, err := strconv.Atoi(offsetStr)
	if err != nil {
		return sortMethod, limitNumber, 0, err
	}

	if limitNumber < 0 || offsetNumber < 0 {
		return sortMethod, 0, 0, errors.New("limit and offset must not be negative")
	}

	return sortMethod, limitNumber, offsetNumber, nil
}

func bufferPercent(b sim.Buffer) float64 {
	if b.Capacity() == 0 {
		return 0
	}

	return float64(b.Size()) / float64(b.Capacity())
}

// sortAndSelectBuffers sorts the buffers and returns limit of them starting
// at offset. A zero limit selects all the remaining buffers.
func (m *Monitor) sortAndSelectBuffers(
	sortMethod string,
	limit, offset int,
) []sim.Buffer {
	m.lock.Lock()
	listers := m.buffers
	m.lock.Unlock()

	var sortedBuffers []sim.Buffer
	for _, l := range listers {
		sortedBuffers = append(sortedBuffers, l.Buffers()...)
	}

	if sortMethod == "level" {
		sort.SliceStable(sortedBuffers, func(i, j int) bool {
			sizeI := sortedBuffers[i].Size()
			sizeJ := sortedBuffers[j].Size()

			if sizeI != sizeJ {
				return sizeI > sizeJ
			}

			return bufferPercent(sortedBuffers[i]) > bufferPercent(sortedBuffers[j])
		})
	} else if sortMethod == "percent" {
		sort.SliceStable(sortedBuffers, func(i, j int) bool {
			percentI := bufferPercent(sortedBuffers[i])
			percentJ := bufferPercent(sortedBuffers[j])

			if percentI != percentJ {
				return percentI > percentJ
			}

			return sortedBuffers[i].Size() > sortedBuffers[j].Size()
		})
	} else {
		panic("Invalid sort method " + sortMethod)
	}

	if offset > len(sortedBuffers) {
		offset = len(sortedBuffers)
	}

	end := len(sortedBuffers)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	return sortedBuffers[offset:end]
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.lock.Lock()
	s, i := m.stats, m.injector
	m.lock.Unlock()

	bars := []ProgressBar{}
	if s != nil {
		bars = append(bars, interceptCoverage(s))
	}

	if i != nil {
		var stubBytes uint64
		for _, st := range i.Stubs() {
			stubBytes += st.Size
		}

		bars = append(bars, heapUsage(i.Heap(), stubBytes))
	}

	writeJSON(w, bars)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()
	process, err := process.NewProcess(int32(pid))
	dieOnErr(err)

	cpuPercent, err := process.CPUPercent()
	dieOnErr(err)

	memorySize, err := process.MemoryInfo()
	dieOnErr(err)

	writeJSON(w, resourceRsp{
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

	writeJSON(w, prof)
}

func (m *Monitor) requestShutdown(w http.ResponseWriter, r *http.Request) {
	m.lock.Lock()
	shutdown := m.shutdown
	m.lock.Unlock()

	if shutdown == nil {
		notRegistered(w, "shutdown")
		return
	}

	code := 0
	if s := r.URL.Query().Get("code"); s != "" {
		var err error
		code, err = strconv.Atoi(s)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	shutdown(code)
	w.WriteHeader(http.StatusAccepted)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
