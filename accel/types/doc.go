// Package types defines the contract shared by the acceleration-structure
// backends: meshes and their instances, build options, the AccelStruct interface
// and the reference counter a Context uses to detect leaked structures.
//
// This package only exposes interfaces and core types. The implementations live in
// accel/compute and accel/hardware; accel.Context selects one.
package types
