// Package health implements liveness, readiness and version endpoints.
//
// Readiness is computed from registered dependency checks. The ledger is
// registered as critical, since without it no usage can be recorded and no
// spend limit evaluated. The Redis threshold store is registered as
// non-critical: when it is down alerts may be delayed but requests still
// flow, so readiness reports "degraded" with status 200.
//
//	checker := health.New(2 * time.Second)
//	checker.Register("ledger", health.PingCheck(store), true)
//	checker.Register("alert_store", health.PingCheck(thresholds), false)
//
//	router.HandleFunc("/health", checker.LivenessHandler())
//	router.HandleFunc("/ready", checker.ReadinessHandler())
//	router.HandleFunc("/version", health.VersionHandler(version, commit, buildDate))
package health
