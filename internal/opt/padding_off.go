//go:build (amd64 || 386 || arm || mips || mipsle || wasm) && !cuckoo_disable_padding && !cuckoo_enable_padding

package opt

// PaddingMult_ scales the cache line padding placed after each lock stripe.
// Padding is disabled by default for:
// - amd64
// - 32-bit architectures (386, arm, mips, mipsle, wasm)
const PaddingMult_ = 0
