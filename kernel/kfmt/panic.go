package kfmt

import (
	"github.com/Nivirx/pogos/kernel"
	"github.com/Nivirx/pogos/kernel/cpu"
)

var (
	// cpuHaltFn is mocked by tests and is automatically inlined by the compiler.
	cpuHaltFn = cpu.Halt
)

// Panic reports err on the console and halts the CPU. There is no runtime
// panic machinery in the kernel image, so every fatal condition is routed
// here explicitly. Panic never returns.
func Panic(err *kernel.Error) {
	Printf("\n[kpanic] ==================================\n")
	if err != nil {
		Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}
	Printf("[kpanic] pogos halted\n")

	cpuHaltFn()
}
