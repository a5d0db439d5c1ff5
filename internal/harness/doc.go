// Package harness runs end-to-end workflow scenarios against the real
// service stack.
//
// A scenario is a YAML document listing steps (create a request, approve
// it, apply, select, go offline, drain) and assertions on the resulting
// trace, the backing store, and the offline queue:
//
//	name: select-trainer
//	description: Two trainers apply and the supervisor selects one.
//	flow:
//	  - op: create_request
//	    as: u1
//	    role: requester
//	    args: {id: r1, title: Public speaking, specialization: communication,
//	           province: Jawa Barat, date: "2024-01-10T09:00:00Z", hours: 3}
//	  - op: select
//	    as: u4
//	    role: supervisor
//	    args: {request: r1, trainer: t2}
//	    expect: ALREADY_ASSIGNED
//	assertions:
//	  - type: final_state
//	    table: requests
//	    id: r1
//	    expect: {status: TR_ASSIGNED, assigned_trainer_id: t1}
//
// Each run uses a fresh in-memory database, a stepping clock, and
// sequential ids, so the trace is stable and can be compared against a
// golden file with RunWithGolden.
//
// Step outcomes are "ok", "queued", or a domain error kind. Offline
// changes that a drain drops appear in the trace as "lost" events.
package harness
