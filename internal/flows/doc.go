// Package flows contains the orchestration behind each Engine operation.
//
// Every flow (RunLogin, RunRefresh, RunSelectTenant, RunLogout and friends)
// takes a dependency struct of closures and returns a result value carrying
// a FailureKind. Flows hold no state between calls and perform no I/O of
// their own, so they can be tested with in-memory fakes.
//
// The host package owns the session store, signer, limiters and audit sink,
// and translates FailureKind into its public errors. Flows must not import
// the host package.
package flows
