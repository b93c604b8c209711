// Package engine implements the job lifecycle engine. It validates the
// target model, normalizes input, submits jobs to the remote compute
// provider, reconciles local execution state with the provider's
// asynchronous status on demand, and handles cancellation. All state
// lives in the store; the engine keeps no cache between calls.
package engine
