// Package optim implements the receding-horizon action search.
//
// [CEM] is a Cross-Entropy Method optimizer over fixed-length control
// sequences. Each call samples candidate sequences uniformly around a
// per-step mean, rolls every candidate through the hybrid model
// (analytical RK4 step plus learned residual), ranks them by a quadratic
// tracking cost with an epistemic-uncertainty penalty, and refits the mean
// and spread to the elites. The final mean is kept as the warm start for
// the next call.
//
// Rollouts are independent and are evaluated on a bounded goroutine pool.
// The residual model is only read during a call.
package optim
