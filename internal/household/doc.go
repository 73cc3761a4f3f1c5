// Package household is the entry point the display layer calls.
//
// Every operation except Login takes the caller's *auth.SessionHandle. The
// handle is re-validated and the caller reloaded from the store on each
// call, so a disabled account or an expired session stops working at the
// next action. Technician rights over a homeowner's guests are re-checked
// against the live grant on every action, never cached.
//
// Authorization failures return errors wrapping auth.ErrForbidden and are
// recorded as ACCESS_DENIED events.
package household
