// Package wire implements the codec for the server's HTTP-like protocol.
//
// The grammar is a fixed subset: a start line "VERB SP PATH SP VERSION",
// header lines accepting both "name: value" and "name:value", a strict
// CRLFCRLF terminator, then exactly the declared number of body bytes.
// Verbs are free-form strings; the dispatcher decides what they mean.
//
// The package also defines the kind-typed error taxonomy that the
// connection boundary maps onto the closed status-code set.
package wire
