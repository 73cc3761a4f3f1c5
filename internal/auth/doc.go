// Package auth authenticates household principals and decides what they
// may do.
//
// It implements a closed 4-role model (admin, homeowner, technician, guest)
// with:
//   - Argon2id password hashing in PHC format (64 MiB, 3 passes, 1 lane)
//   - Sliding-window failure counting with escalating, capped lockouts
//   - One live session per principal and one active session per process;
//     only a SHA-256 hash of the session token is persisted
//   - Timing normalisation so unknown usernames look like wrong passwords
//   - A static role/capability table plus ownership checks on guest targets
//
// Every authentication failure reaches the caller as the same opaque
// "login failed" error. The specific reason is available through errors.Is
// and is written to the security log, never shown to the user.
package auth
