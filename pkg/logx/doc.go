// Package logx is a thin structured-logging layer over zerolog with
// console and optional file sinks that can be reconfigured at runtime.
package logx
