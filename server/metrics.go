package server

import (
	"expvar"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

var (
	systemMetricsOnce sync.Once
	cpuUsagePercent   *expvar.Float
	memUsagePercent   *expvar.Float
	diskUsagePercent  *expvar.Map
)

func initSystemMetrics() {
	systemMetricsOnce.Do(func() {
		cpuUsagePercent = expvar.NewFloat("system_cpu_usage_percent")
		memUsagePercent = expvar.NewFloat("system_mem_usage_percent")
		diskUsagePercent = expvar.NewMap("system_disk_usage_percent")
	})
}

// SystemCollector periodically collects CPU, memory and per-directory disk
// usage and publishes them via expvar.
type SystemCollector struct {
	cpuUsagePercent *expvar.Float
	memUsagePercent *expvar.Float
	diskUsage       *expvar.Map
	dirs            []string
	interval        time.Duration
	stopChan        chan struct{}
	stopOnce        sync.Once
	wg              sync.WaitGroup
	logger          *slog.Logger
}

// NewSystemCollector creates a new collector for the disks holding dirs,
// usually the journal and ledger directories.
func NewSystemCollector(dirs []string, interval time.Duration, logger *slog.Logger) *SystemCollector {
	if logger == nil {
		logger = slog.Default()
	}
	initSystemMetrics()
	return &SystemCollector{
		cpuUsagePercent: cpuUsagePercent,
		memUsagePercent: memUsagePercent,
		diskUsage:       diskUsagePercent,
		dirs:            dirs,
		interval:        interval,
		stopChan:        make(chan struct{}),
		logger:          logger.With("component", "SystemCollector"),
	}
}

// Start begins the background collection loop.
func (sc *SystemCollector) Start() {
	sc.logger.Info("Starting system metrics collector", "interval", sc.interval)
	sc.wg.Add(1)
	go sc.collectLoop()
}

// Stop signals the collection loop to terminate and waits for it to finish.
func (sc *SystemCollector) Stop() {
	sc.stopOnce.Do(func() {
		sc.logger.Info("Stopping system metrics collector")
		close(sc.stopChan)
	})
	sc.wg.Wait()
}

// Collect takes one sample of every metric.
func (sc *SystemCollector) Collect() {
	// Sample CPU over half the interval so the next tick is not delayed.
	if cpuPercentages, err := cpu.Percent(sc.interval/2, false); err == nil && len(cpuPercentages) > 0 {
		sc.cpuUsagePercent.Set(cpuPercentages[0])
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		sc.memUsagePercent.Set(vm.UsedPercent)
	}
	for _, dir := range sc.dirs {
		du, err := disk.Usage(dir)
		if err != nil {
			sc.logger.Debug("Failed to read disk usage", "dir", dir, "error", err)
			continue
		}
		v := new(expvar.Float)
		v.Set(du.UsedPercent)
		sc.diskUsage.Set(dir, v)
	}
}

func (sc *SystemCollector) collectLoop() {
	defer sc.wg.Done()
	ticker := time.NewTicker(sc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sc.Collect()
		case <-sc.stopChan:
			return
		}
	}
}
