//go:build cuckoo_disable_padding

package opt

// PaddingMult_ scales the cache line padding placed after each lock stripe.
// Padding is force-disabled via the cuckoo_disable_padding build tag.
// Use: go build -tags=cuckoo_disable_padding
const PaddingMult_ = 0
