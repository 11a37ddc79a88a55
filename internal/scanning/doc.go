// Package scanning is the scan orchestration engine of inventorama.
//
// An Orchestrator takes a finite sequence of targets and runs each valid
// one through a two-stage pipeline: a reachability probe, then collection of
// the selected inventory capabilities. Records move through the statuses
//
//	Pending -> Probing -> NotReachable
//	                   -> Querying -> Complete | Error
//
// and any non-terminal record can become Cancelled. Invalid targets are
// terminal from the start and never probed.
//
// # Concurrency
//
// A FixedResourceManager bounds the number of pipelines in flight to
// ScanConfig.MaxConcurrency. The dispatcher acquires a slot per target in
// submission order, so a finishing pipeline is replaced immediately.
// Completion order is not submission order.
//
// # Failure isolation
//
// Errors and panics inside a pipeline become an Error record for that
// target only. A capability that cannot be fetched leaves its field at
// "N/A"; the record is still Complete unless every requested capability
// failed. Sink write failures are logged and counted in
// Summary.PersistFailures; the scan continues.
//
// # Usage
//
//	orch := scanning.NewOrchestrator(prober, collector, logger,
//		scanning.WithSinks(csvSink.Writer(columns)))
//
//	run, err := orch.Start(ctx, targets.Expand(targets.Segment("10.0.0")), cfg)
//	if err != nil {
//		return err
//	}
//	for rec := range run.Events() {
//		fmt.Println(rec.Address, rec.Status)
//	}
//	summary := run.Wait()
//
// A Manager wraps an Orchestrator for long-lived processes that allow one
// run at a time and fan events out to several subscribers.
package scanning
