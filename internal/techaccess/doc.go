// Package techaccess implements time-bounded technician access grants.
//
// A homeowner requests a technician for 30, 60, 90 or 120 minutes. The
// grant starts in ACCESS_GRANTED, moves to TECH_ACCESS when the technician
// activates it, and ends in ACCESS_EXPIRED once grant_expires passes.
// Expiry is evaluated against the clock on every use; the Sweeper only
// tidies rows nobody has touched.
//
// A homeowner holds at most one open grant. The rule is enforced inside a
// transaction and backed by a partial unique index.
package techaccess
