package heap

// Config bundles the heap facade's tunables. It is the idiomatic-Go
// analogue of the reference allocator's compile-time #defines
// (OS_MEM_SIZE, OS_MEM_BUF_MAX_NUM): instead of recompiling with a
// different value, a caller passes an Option to Init.
type Config struct {
	MemSize   uint32
	BufMaxNum uint32
}

// Option customizes a Config away from its defaults.
type Option func(*Config)

func defaultConfig(size uint32) Config {
	return Config{MemSize: size, BufMaxNum: BufMaxNum}
}

// WithBufMaxNum overrides how many temp-buffer slots BufGet has available,
// in place of the default BufMaxNum.
func WithBufMaxNum(n uint32) Option {
	return func(c *Config) { c.BufMaxNum = n }
}
