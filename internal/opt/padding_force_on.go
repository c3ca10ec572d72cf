//go:build cuckoo_enable_padding

package opt

// PaddingMult_ scales the cache line padding placed after each lock stripe.
// Padding is force-enabled via the cuckoo_enable_padding build tag.
// Use: go build -tags=cuckoo_enable_padding
const PaddingMult_ = 1
