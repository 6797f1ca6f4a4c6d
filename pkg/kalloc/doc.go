// Package kalloc implements a fixed-arena segregated-fit allocator: a
// size-classed set of free lists backed by a watermark that carves
// fresh memory on demand, with a first-fit fallback list for requests
// too large for any class. It never coalesces adjacent free regions —
// the same tradeoff the kernel allocator it is modeled on makes, in
// exchange for simple bin operations: a free is an O(1) push, and a bin
// allocation takes the first block on its class list whose address
// satisfies the requested alignment.
package kalloc
