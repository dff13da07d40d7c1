// Package fit drives a residual.Builder to a least-squares optimum.
//
// Two methods are available: "leastsq", a Levenberg–Marquardt solver with a
// forward-difference Jacobian, and "nelder-mead", the gonum simplex method
// applied to the sum of squares. Bounded parameters are optimized in an
// unconstrained internal coordinate (see params.Parameter.ToInternal), so
// every trial point respects its bounds.
//
// A fit moves through Initialized → Running and ends in exactly one of
// Converged, MaxIterations or Failed. A Failed fit returns its Result and
// the originating error; MaxIterations is not an error, its Result carries
// the best parameters found and Err wraps dynamo.ErrConvergence. A
// leastsq run whose normal equations cannot be factorized at any damping
// ends Failed with an error wrapping dynamo.ErrConvergence.
//
// Fitter values are safe for concurrent use. Each Fit call owns its state.
package fit
