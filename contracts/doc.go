// Package contracts provides the value types shared by the producer packages.
//
// This package defines:
//   - Priority: The four ordinal message priorities understood by consumers
//   - Envelope: Outgoing message metadata plus encoded body
//   - Reply: A matched RPC reply whose body is decoded on demand
//   - TimeoutError: The error returned when an RPC wait budget runs out
package contracts
