// Package hw provides register and memory access used by the PMU core.
package hw

// Every access through Registers is a side-effecting register access: the
// head/tail registers of a queue are the only thing the peer processor
// observes, so nothing in this package caches a value read from them.
//
// RegisterFile and RAM are in-memory implementations backing the simulator
// and the tests. A hardware build provides its own Registers and Memory.
