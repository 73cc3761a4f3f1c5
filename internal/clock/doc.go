// Package clock abstracts time and randomness for the access core.
//
// Lockout windows, session expiry and technician grant expiry are all
// evaluated against Clock.Now at the moment of the check. The timing
// normalisation on failed logins draws its delay from a Jitter source and
// waits with Clock.Sleep. Production code injects Real() and CryptoJitter();
// tests inject a Fake clock and FixedJitter so every branch is deterministic.
package clock
