// +build pmu_taskbuf

package pmu

const buildTaskBuffers = true
