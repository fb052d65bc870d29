// Package accounts implements the account lifecycle and access control core
// of a session based admin panel.
//
// Accounts:
//   - An account is created by an administrator in the invited state. Invited
//     accounts carry no password hash and can never log in.
//   - The invitee receives a signed, time limited capability link. Following
//     the link and choosing a password moves the account to active and opens
//     an authenticated session.
//   - Account state is derived from the stored columns (see User.State); the
//     AccountStateMachine owns the allowed transitions and emits activity.
//
// Access control:
//   - Every account holds exactly one role. The super-admin role is allowed
//     every action by the Gate, except deleting or impersonating itself.
//   - Other roles are checked against the permissions stored by the RoleStore.
//
// Sessions:
//   - SessionAuthority owns login, logout, impersonation and termination.
//     Every identity change destroys the previous session record and mints a
//     new identifier and anti-forgery token.
//
// Outcomes:
//   - Manager operations return an Outcome describing expected results
//     (validation failures, forbidden actions, conflicts, bad tokens). The
//     error return is reserved for unexpected storage failures.
package accounts
