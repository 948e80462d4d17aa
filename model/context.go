package model

import (
	"os"
	"runtime"
)

// Context property names
const (
	ContextOSName      = "os.name"
	ContextOSArch      = "os.arch"
	ContextGoVersion   = "go.version"
	ContextGoCompiler  = "go.compiler"
	ContextNumCPU      = "cpu.count"
	ContextHostname    = "host.name"
	ContextMemoryTotal = "memory.total"
	ContextMemoryFree  = "memory.free"
	ContextMemoryUsed  = "memory.used"
	contextPrePrefix   = "pre."
	contextPostPrefix  = "post."
)

// Context holds runtime properties of the process that executed a run.
type Context map[string]any

// NewContext captures platform information and a memory snapshot taken
// before the tests run.
func NewContext() Context {
	c := Context{
		ContextOSName:     runtime.GOOS,
		ContextOSArch:     runtime.GOARCH,
		ContextGoVersion:  runtime.Version(),
		ContextGoCompiler: runtime.Compiler,
		ContextNumCPU:     runtime.NumCPU(),
	}
	if host, err := os.Hostname(); err == nil {
		c[ContextHostname] = host
	}
	c.snapshotMemory(contextPrePrefix)
	return c
}

// Enrich adds the memory snapshot taken after the tests ran.
func (c Context) Enrich() {
	c.snapshotMemory(contextPostPrefix)
}

func (c Context) PreProperty(name string) any  { return c[contextPrePrefix+name] }
func (c Context) PostProperty(name string) any { return c[contextPostPrefix+name] }

func (c Context) snapshotMemory(prefix string) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	c[prefix+ContextMemoryTotal] = ms.Sys
	c[prefix+ContextMemoryFree] = ms.Sys - ms.HeapInuse
	c[prefix+ContextMemoryUsed] = ms.HeapInuse
}
