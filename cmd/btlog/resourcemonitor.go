package cmd

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// resourceMonitor samples the current process's CPU, memory and disk-I/O
// usage on an interval and writes the series to CSV on Stop, mirroring
// Utils/ResourceMonitor.py's per-run monitoring report (minus its matplotlib
// plots, which have no Go analog wired into this module).
type resourceMonitor struct {
	proc      *process.Process
	interval  time.Duration
	csvPath   string
	startTime time.Time

	mu      sync.Mutex
	rows    [][]string
	stop    chan struct{}
	done    chan struct{}
	lastIO  *process.IOCountersStat
	lastAt  time.Time
}

var resourceMonitorHeader = []string{
	"timestamp", "elapsed_seconds", "cpu_percent", "memory_percent",
	"memory_mb", "read_mb_sec", "write_mb_sec", "num_threads",
}

// newResourceMonitor opens a monitor for the current process, writing its
// report to resource_usage_<pid>_<unixtime>.csv under outputDir.
func newResourceMonitor(outputDir string, interval time.Duration) (*resourceMonitor, error) {
	pid := int32(os.Getpid())
	proc, err := process.NewProcess(pid)
	if err != nil {
		return nil, fmt.Errorf("resource monitor: %w", err)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(outputDir, fmt.Sprintf("resource_usage_%d_%d.csv", pid, time.Now().Unix()))
	return &resourceMonitor{
		proc:     proc,
		interval: interval,
		csvPath:  path,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Start begins sampling in the background.
func (m *resourceMonitor) Start() {
	m.startTime = time.Now()
	go m.loop()
}

func (m *resourceMonitor) loop() {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.sample()
		}
	}
}

func (m *resourceMonitor) sample() {
	cpuPercent, _ := m.proc.CPUPercent()
	memPercent, _ := m.proc.MemoryPercent()
	memInfo, err := m.proc.MemoryInfo()
	var memMB float64
	if err == nil && memInfo != nil {
		memMB = float64(memInfo.RSS) / 1024 / 1024
	}
	numThreads, _ := m.proc.NumThreads()

	var readMBs, writeMBs float64
	if io, err := m.proc.IOCounters(); err == nil && io != nil {
		now := time.Now()
		if m.lastIO != nil {
			dt := now.Sub(m.lastAt).Seconds()
			if dt > 0 {
				readMBs = float64(io.ReadBytes-m.lastIO.ReadBytes) / dt / 1024 / 1024
				writeMBs = float64(io.WriteBytes-m.lastIO.WriteBytes) / dt / 1024 / 1024
			}
		}
		m.lastIO = io
		m.lastAt = now
	}

	row := []string{
		time.Now().Format(time.RFC3339Nano),
		strconv.FormatFloat(time.Since(m.startTime).Seconds(), 'f', 3, 64),
		strconv.FormatFloat(cpuPercent, 'f', 2, 64),
		strconv.FormatFloat(float64(memPercent), 'f', 2, 64),
		strconv.FormatFloat(memMB, 'f', 2, 64),
		strconv.FormatFloat(readMBs, 'f', 3, 64),
		strconv.FormatFloat(writeMBs, 'f', 3, 64),
		strconv.Itoa(int(numThreads)),
	}

	m.mu.Lock()
	m.rows = append(m.rows, row)
	m.mu.Unlock()
}

// Stop ends sampling and writes the accumulated rows to CSV.
func (m *resourceMonitor) Stop() error {
	close(m.stop)
	<-m.done

	f, err := os.Create(m.csvPath)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(resourceMonitorHeader); err != nil {
		return err
	}
	m.mu.Lock()
	rows := m.rows
	m.mu.Unlock()
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
