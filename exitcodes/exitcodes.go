// Package exitcodes defines the standard exit codes used by gjest.
package exitcodes

// Exit code constants used by gjest
// These constants define the exit codes that the application uses to indicate
// various states when it exits:
//
// * Success (0): Used when every executed test unit passed
// * TestFailure (1): Used when units fail or error, the coverage threshold is
//   unmet, or an explicitly named target could not be resolved
// * RuntimeErr (2): Used for configuration and runtime errors
const (
	Success     = 0 // All executed units passed
	TestFailure = 1 // Failing units or unmet run conditions
	RuntimeErr  = 2 // Configuration or runtime errors
)
