// Package control provides the controllers that close the loop around the
// point mass.
//
//   - [Hybrid]: model-predictive controller that identifies physical
//     parameters, learns residual dynamics, and plans with CEM every tick
//   - [PID]: per-axis PID position tracker, used as a baseline
//   - [LQR]: static state-feedback tracker, used as a baseline
//   - [None]: passthrough controller (zero control)
//
// # Usage
//
//	h, err := control.New(control.DefaultConfig(), control.WithLogger(log))
//	res := h.Step(measured, lastAction)
//	lastAction = res.Action
//
// Every controller implements [dynamo.Controller]; Hybrid additionally
// exposes the per-tick diagnostics through [Hybrid.Step].
package control
