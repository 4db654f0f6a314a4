// Package quorum implements the coordinator of the tunable-consistency
// path: writes wait for W replica acknowledgements, reads for R responses,
// and R+W > N guarantees every read quorum overlaps every write quorum.
package quorum
