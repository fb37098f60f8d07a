// +build pmu_sec

package pmu

const buildSecure = true
