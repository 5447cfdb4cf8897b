// Package replication implements §4.8-4.10's primary/replica protocol: a
// framed, CRC-checked message stream carrying handshake, log-shipping, and
// snapshot-bootstrap exchanges between one primary and any number of
// replicas.
package replication
