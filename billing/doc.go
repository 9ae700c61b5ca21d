// Package billing implements the subscription entitlement and usage metering
// core: a static tier catalog, a durable entitlement record per account, a
// per-account-per-month usage ledger, a limit enforcer gating paid operations,
// and a webhook reconciler that applies payment provider lifecycle events to
// the entitlement store.
//
// All coordination happens through the durable stores; request handling is
// stateless. The only operation that requires true atomicity is the ledger
// increment, which every store implementation performs as a single
// upsert-with-increment rather than a read-then-write.
package billing
