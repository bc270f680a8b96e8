// Package telemetry システムテレメトリ（CPU・メモリ・ディスク・温度・電圧）の取得を担う
//
// # 仕様
// - CPU使用率は /proc/stat の差分から計算する（初回サンプルは0%）
// - メモリ使用率は /proc/meminfo の MemTotal / MemAvailable から計算する
// - ディスク情報はデータパスのファイルシステムを statfs で参照する
// - SoC温度は /sys/class/thermal/thermal_zone0/temp から取得する
// - コア電圧は vcgencmd（Raspberry Pi固有）から取得する
// - 個々の読み取り失敗はスナップショット全体を失敗させず、欠損値として扱う
package telemetry

import (
	"context"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

// Data はテレメトリスナップショット
type Data struct {
	Timestamp        string         `json:"timestamp"`
	CPUTemp          *float64       `json:"cpu_temp,omitempty"`
	CPUUsage         float64        `json:"cpu_usage"`
	MemoryUsage      float64        `json:"memory_usage"`
	DiskFreeGB       float64        `json:"disk_free_gb"`
	DiskUsagePercent float64        `json:"disk_usage_percent"`
	Voltage          *float64       `json:"voltage,omitempty"`
	SequenceProgress map[string]any `json:"sequence_progress,omitempty"`
}

// Sampler はテレメトリを取得する
// CPU使用率の差分計算のため前回のtick値を保持する
type Sampler struct {
	dataPath string

	mu        sync.Mutex
	prevIdle  uint64
	prevTotal uint64
}

// NewSampler は新しいSamplerを作成する
// dataPath のファイルシステムがディスク情報の対象となる
func NewSampler(dataPath string) *Sampler {
	return &Sampler{dataPath: dataPath}
}

// Sample は現在のテレメトリスナップショットを取得する
func (s *Sampler) Sample(ctx context.Context) Data {
	d := Data{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		CPUUsage:  s.cpuPercent(),
	}

	if mem, ok := memoryPercent(); ok {
		d.MemoryUsage = mem
	}

	if free, used, ok := s.diskUsage(); ok {
		d.DiskFreeGB = free
		d.DiskUsagePercent = used
	}

	if temp, ok := cpuTemperature(); ok {
		d.CPUTemp = &temp
	}

	if volts, ok := coreVoltage(ctx); ok {
		d.Voltage = &volts
	}

	return d
}

// cpuPercent は /proc/stat の差分からCPU使用率を計算する
func (s *Sampler) cpuPercent() float64 {
	idle, total, ok := readCPUTicks()
	if !ok {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	defer func() {
		s.prevIdle = idle
		s.prevTotal = total
	}()

	if s.prevTotal == 0 || total <= s.prevTotal {
		return 0
	}

	dTotal := float64(total - s.prevTotal)
	dIdle := float64(idle - s.prevIdle)
	usage := (dTotal - dIdle) / dTotal * 100
	if usage < 0 {
		return 0
	}
	return usage
}

// readCPUTicks は /proc/stat の先頭行からidle/totalのtick値を読む
func readCPUTicks() (idle, total uint64, ok bool) {
	data, err := os.ReadFile("/proc/stat")
	if err != nil {
		return 0, 0, false
	}

	lines := strings.SplitN(string(data), "\n", 2)
	fields := strings.Fields(lines[0])
	if len(fields) < 5 || fields[0] != "cpu" {
		return 0, 0, false
	}

	for i, f := range fields[1:] {
		v, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			return 0, 0, false
		}
		total += v
		// 4番目(idle)と5番目(iowait)をアイドルとして扱う
		if i == 3 || i == 4 {
			idle += v
		}
	}

	return idle, total, true
}

// memoryPercent は /proc/meminfo からメモリ使用率を計算する
func memoryPercent() (float64, bool) {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0, false
	}

	var totalKB, availKB uint64
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		v, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			totalKB = v
		case "MemAvailable:":
			availKB = v
		}
	}

	if totalKB == 0 {
		return 0, false
	}
	return float64(totalKB-availKB) / float64(totalKB) * 100, true
}

// diskUsage はデータパスの空き容量(GB)と使用率(%)を返す
func (s *Sampler) diskUsage() (freeGB, usedPercent float64, ok bool) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(s.dataPath, &st); err != nil {
		return 0, 0, false
	}

	total := st.Blocks * uint64(st.Bsize)
	free := st.Bavail * uint64(st.Bsize)
	if total == 0 {
		return 0, 0, false
	}

	freeGB = float64(free) / (1024 * 1024 * 1024)
	usedPercent = float64(total-free) / float64(total) * 100
	return freeGB, usedPercent, true
}

// cpuTemperature はサーマルゾーンからSoC温度（摂氏）を読む
func cpuTemperature() (float64, bool) {
	data, err := os.ReadFile("/sys/class/thermal/thermal_zone0/temp")
	if err != nil {
		return 0, false
	}

	milli, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false
	}
	return float64(milli) / 1000.0, true
}

// coreVoltage は vcgencmd からコア電圧を読む（Raspberry Pi固有）
func coreVoltage(ctx context.Context) (float64, bool) {
	cmdCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	out, err := exec.CommandContext(cmdCtx, "vcgencmd", "measure_volts", "core").Output()
	if err != nil {
		return 0, false
	}

	// 出力形式: volt=1.2000V
	text := strings.TrimSpace(string(out))
	if !strings.HasPrefix(text, "volt=") {
		return 0, false
	}

	v, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimPrefix(text, "volt="), "V"), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
