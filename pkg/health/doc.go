/*
Package health provides the HealthCheck capability used to monitor
replication peers.

There are exactly two checker implementations, by design (see design note on
polymorphism: "HealthCheck is a capability with two methods — an abstract
interface with a small closed set of implementations"):

	┌────────────────────────────────────────────────┐
	│                Checker interface                │
	│  • Check(ctx) Result                             │
	│  • Type() CheckType                              │
	└───────┬──────────────────────────┬──────────────┘
	        │                          │
	        ▼                          ▼
	┌──────────────┐          ┌──────────────────┐
	│  TCPChecker   │          │ HeartbeatChecker  │
	│  dials a      │          │ judges health     │
	│  listener     │          │ from elapsed time │
	└──────────────┘          │ since last Touch   │
	                           └──────────────────┘

TCPChecker is used by a replica verifying a primary address is reachable
before the handshake. HeartbeatChecker is used by the primary to evaluate a
connected replica between Pings: every WalAck or Pong calls Touch, and the
replica is considered unhealthy once missed_heartbeats_threshold consecutive
Check calls observe silence beyond the configured interval (§4.9).
*/
package health
