// Package dynamo provides the core primitives shared by the hybrid controller.
//
// The package defines the fixed-size vectors and the small interfaces the
// rest of the module is written against:
//
//   - [State]: 6-vector (x, y, vx, vy, angle, angular velocity)
//   - [Control]: 2-vector force (fx, fy)
//   - [System]: interface for ODE systems (dX/dt = f(X, u, t))
//   - [Integrator]: numerical integrator interface
//   - [Controller]: feedback controller interface
//
// State and Control are arrays, so they are copied on assignment and a value
// handed to another package can never be mutated behind the caller's back.
//
// # Example
//
//	pm := physics.NewPointMass(physics.DefaultParams())
//	x1 := integrators.NewRK4().Step(pm, x0, u, 0, physics.DefaultDt)
//
// # Errors
//
// Configuration problems surface as [*ConfigError], which unwraps to
// [ErrConfiguration]. Numeric degeneracy inside a control tick is never an
// error; see the optim and sysid packages.
package dynamo
