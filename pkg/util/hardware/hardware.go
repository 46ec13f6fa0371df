package hardware

import (
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
)

// GetCPUNum 返回当前进程可用的 CPU 核数。
//
// 说明：
//   - 优先使用 runtime.GOMAXPROCS（已由 automaxprocs 按容器配额调整）；
//   - 若 GOMAXPROCS 大于 gopsutil 统计到的逻辑核数，则以逻辑核数为准；
//   - 结果至少为 1。
func GetCPUNum() int {
	cur := runtime.GOMAXPROCS(0)
	if n, err := cpu.Counts(true); err == nil && n > 0 && n < cur {
		cur = n
	}
	if cur <= 0 {
		cur = 1
	}
	return cur
}
