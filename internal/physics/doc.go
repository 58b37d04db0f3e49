// Package physics provides the analytical model of the controlled body.
//
// The body is a point mass with linear friction and constant gravity:
//
//   - [Derivative]: dx/dt for state, control, and [Params]
//   - [StepRK4]: one classical Runge-Kutta step
//   - [PointMass]: the same model as a [dynamo.System] and [dynamo.Configurable]
//   - [ControlJacobian]: sensitivity of a step to the applied force
//
// [Bounds] holds the admissible mass and friction ranges that online
// identification projects into after every update.
package physics
