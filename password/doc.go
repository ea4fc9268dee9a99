// Package password holds the two credential-side primitives of the engine:
// the argon2id hasher used to store and verify credentials, and the policy
// engine that validates and scores candidate passwords before they are ever
// hashed.
//
// The hasher emits PHC-formatted strings ($argon2id$v=...$m=...,t=...,p=...)
// so parameters travel with the digest and can be upgraded over time.
package password
