// +build pmu_heap

package pmu

const buildBackend = VariantHeap
