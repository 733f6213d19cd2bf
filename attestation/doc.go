// Package attestation holds the data model shared by every stage of the
// attestation request/proof pipeline.
//
// A request moves through the stages
//
//	Building -> Submitted -> Searching -> Verified -> Decoded
//
// Building turns a Spec into an EncodedRequest through the verifier service,
// Submitted records the hub transaction and the voting round it was accepted
// into, Searching walks backwards over candidate rounds on the DA layer until a
// ProofRecord is found, Verified checks the Merkle path against the round root
// and Decoded turns the response bytes into a typed payload.
//
// The subpackages implement one stage each; package pipeline wires them
// together.
package attestation
