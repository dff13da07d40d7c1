// Package dynamo provides the numerical primitives shared by the kinetics
// engine.
//
// The package defines the fundamental types for integrating autonomous or
// time-dependent ODE systems (dX/dt = f(X, t)):
//
//   - [State]: species concentration vector in model order
//   - [System]: interface for ODE right-hand sides
//   - [Stepper]: single-step numerical integrator
//   - [Trajectory]: states sampled at requested time points
//
// # Errors
//
// Failures are reported with two context types, [ConfigurationError] for
// problems detected before any integration and [IntegrationError] for a
// solver that could not reach a requested time. Both unwrap to the package
// sentinels so callers can use errors.Is:
//
//	if errors.Is(err, dynamo.ErrIntegration) {
//	    // adjust the initial guess and resubmit
//	}
//
// # Thread Safety
//
// Values in this package are not synchronised. Steppers keep scratch
// buffers and must not be shared between goroutines; create one per fit.
package dynamo
