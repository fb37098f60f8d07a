// Package msgs defines the protobuf packets exchanged over the bridge.
package msgs
