// Package gate implements the pre-call spend-limit check.
//
// Before a provider call the caller asks the Gate whether the
// organization may proceed. The check compares the ledger's month-to-date
// spend with the organization's hard limit:
//
//	allowed = spent < limit
//
// The check is bounded by a timeout (250ms by default). When it cannot be
// evaluated the gate fails closed unless fail_open is set. Organizations
// that are unknown or have no limit follow the unlimited policy, which
// allows by default.
//
// A rejection for a reached limit invokes the breach hook, which the
// service wires to the CRITICAL spend-limit alert.
package gate
